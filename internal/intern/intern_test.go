package intern

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchid-lang/corex/internal/proto"
)

type fakeHost struct {
	nextTok  uint64
	internCalls int32
	externCalls int32
	failIntern  bool
}

func (f *fakeHost) InternStr(ctx context.Context, s string) (proto.StrToken, error) {
	atomic.AddInt32(&f.internCalls, 1)
	if f.failIntern {
		return 0, errors.New("host unavailable")
	}
	f.nextTok++
	return proto.StrToken(f.nextTok), nil
}

func (f *fakeHost) InternStrv(ctx context.Context, ss []string) (proto.StrToken, error) {
	f.nextTok++
	return proto.StrToken(f.nextTok), nil
}

func (f *fakeHost) ExternStr(ctx context.Context, tok proto.StrToken) (string, error) {
	atomic.AddInt32(&f.externCalls, 1)
	return "resolved", nil
}

func (f *fakeHost) ExternStrv(ctx context.Context, tok proto.StrToken) ([]string, error) {
	return []string{"a", "b"}, nil
}

func TestInternCachesAfterFirstCall(t *testing.T) {
	host := &fakeHost{}
	in := New(host)

	tok1, err := in.Intern(context.Background(), "hello")
	require.NoError(t, err)

	tok2, err := in.Intern(context.Background(), "hello")
	require.NoError(t, err)

	require.Equal(t, tok1, tok2)
	require.EqualValues(t, 1, host.internCalls)
}

func TestInternResolveRoundTripInvariant(t *testing.T) {
	host := &fakeHost{}
	in := New(host)

	tok, err := in.Intern(context.Background(), "world")
	require.NoError(t, err)

	s, err := in.Resolve(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "world", s)
	require.EqualValues(t, 0, host.externCalls, "resolve should hit local cache populated by Intern")
}

func TestResolveMissConsultsHostAndCaches(t *testing.T) {
	host := &fakeHost{}
	in := New(host)

	s1, err := in.Resolve(context.Background(), proto.StrToken(99))
	require.NoError(t, err)
	require.Equal(t, "resolved", s1)

	s2, err := in.Resolve(context.Background(), proto.StrToken(99))
	require.NoError(t, err)
	require.Equal(t, "resolved", s2)
	require.EqualValues(t, 1, host.externCalls)
}

func TestInternPropagatesHostError(t *testing.T) {
	host := &fakeHost{failIntern: true}
	in := New(host)

	_, err := in.Intern(context.Background(), "x")
	require.Error(t, err)
}

func TestSweepDropsUnretainedTokens(t *testing.T) {
	host := &fakeHost{}
	in := New(host)

	keep, err := in.Intern(context.Background(), "keep-me")
	require.NoError(t, err)
	drop, err := in.Intern(context.Background(), "drop-me")
	require.NoError(t, err)

	in.BeginSweep([]proto.StrToken{keep})
	in.EndSweep()

	// keep is still cached (no host round trip needed)
	_, err = in.Resolve(context.Background(), keep)
	require.NoError(t, err)
	require.EqualValues(t, 0, host.externCalls)

	// drop was evicted, so resolving it must go back to the host
	_, err = in.Resolve(context.Background(), drop)
	require.NoError(t, err)
	require.EqualValues(t, 1, host.externCalls)
}

func TestSweepHistoryRecordsManifest(t *testing.T) {
	host := &fakeHost{}
	in := New(host)

	_, _ = in.Intern(context.Background(), "a")
	_, _ = in.Intern(context.Background(), "b")

	in.BeginSweep(nil)
	in.EndSweep()

	hist := in.SweepHistory()
	require.Len(t, hist, 1)
	require.Equal(t, 2, hist[0].dropped)
}

func TestSequenceInternAndResolve(t *testing.T) {
	host := &fakeHost{}
	in := New(host)

	tok, err := in.InternSeq(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	ss, err := in.ResolveSeq(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ss)
}

func TestCacheSizeReflectsLiveTokens(t *testing.T) {
	host := &fakeHost{}
	in := New(host)
	require.Equal(t, 0, in.CacheSize())

	_, _ = in.Intern(context.Background(), "x")
	_, _ = in.InternSeq(context.Background(), []string{"y"})
	require.Equal(t, 2, in.CacheSize())
}
