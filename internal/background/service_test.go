package background

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/factmark/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

type stubAnalyzer struct {
	resp *model.AnalysisResponse
	err  error
}

func (s stubAnalyzer) Name() string { return "stub" }

func (s stubAnalyzer) Analyze(context.Context, string) (*model.AnalysisResponse, error) {
	return s.resp, s.err
}

func login(token string) AuthSuccess {
	return AuthSuccess{RelayID: "r-" + token, Payload: model.AuthPayload{
		Success: true,
		Token:   token,
		User:    model.User{"name": "Ada", "email": "ada@example.org"},
	}}
}

func TestService_LoginStatusLogout(t *testing.T) {
	s := NewService(nil, 0, nil)
	defer s.Close()
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	resp, err := s.Send(context.Background(), AuthStatus{})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Nil(t, resp.Session)

	resp, err = s.Send(context.Background(), login("tok-1"))
	require.NoError(t, err)
	require.True(t, resp.OK)
	assert.Equal(t, "tok-1", resp.Session.Token)

	ev := <-events
	assert.Equal(t, EventLogin, ev.Kind)
	assert.Equal(t, "ada@example.org", ev.Session.User.Email())

	resp, err = s.Send(context.Background(), AuthStatus{})
	require.NoError(t, err)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "Ada", resp.Session.User.Name())

	resp, err = s.Send(context.Background(), Logout{})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, EventLogout, (<-events).Kind)
	assert.Nil(t, s.Current())
}

func TestService_DuplicateTokenNotRepublished(t *testing.T) {
	s := NewService(nil, 0, nil)
	defer s.Close()
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	_, err := s.Send(context.Background(), login("same"))
	require.NoError(t, err)
	resp, err := s.Send(context.Background(), login("same"))
	require.NoError(t, err)

	assert.True(t, resp.OK)
	assert.True(t, resp.Duplicate)
	assert.Len(t, events, 1, "second relay of the same token is acknowledged silently")

	_, err = s.Send(context.Background(), login("other"))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestService_ConcurrentSameTokenPublishesOnce(t *testing.T) {
	s := NewService(nil, 0, nil)
	defer s.Close()
	events, unsubscribe := s.Subscribe()
	defer unsubscribe()

	const senders = 32
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		duplicates int
	)
	start := make(chan struct{})
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			resp, err := s.Send(context.Background(), login("tok-race"))
			assert.NoError(t, err)
			assert.True(t, resp.OK)
			if resp.Duplicate {
				mu.Lock()
				duplicates++
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, senders-1, duplicates)
	require.Len(t, events, 1)
	assert.Equal(t, EventLogin, (<-events).Kind)
}

func TestService_RejectsInvalidAuth(t *testing.T) {
	s := NewService(nil, 0, nil)
	defer s.Close()

	resp, err := s.Send(context.Background(), AuthSuccess{Payload: model.AuthPayload{Success: true}})
	assert.ErrorIs(t, err, model.ErrInvalidAuth)
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)

	past := time.Now().Add(-time.Hour).UnixMilli()
	_, err = s.Send(context.Background(), AuthSuccess{Payload: model.AuthPayload{Success: true, Token: "t", ExpiresAt: &past}})
	assert.Error(t, err)
	assert.Nil(t, s.Current())
}

func TestService_SessionExpiresAt(t *testing.T) {
	s := NewService(nil, 0, nil)
	defer s.Close()

	expires := time.Now().Add(40 * time.Millisecond).UnixMilli()
	refresh := "refresh"
	req := login("short")
	req.Payload.ExpiresAt = &expires
	req.Payload.RefreshToken = &refresh

	resp, err := s.Send(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "refresh", resp.Session.RefreshToken)
	assert.Equal(t, expires, resp.Session.ExpiresAt.UnixMilli())

	require.Eventually(t, func() bool { return s.Current() == nil }, time.Second, 10*time.Millisecond)
}

func TestService_Analyze(t *testing.T) {
	claims := &model.AnalysisResponse{Claims: []model.Claim{{ID: "1", Text: "x"}}}

	s := NewService(stubAnalyzer{resp: claims}, 0, nil)
	defer s.Close()
	resp, err := s.Send(context.Background(), Analyze{Content: "x"})
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Len(t, resp.Analysis.Claims, 1)

	_, err = s.Send(context.Background(), Analyze{Content: "  "})
	assert.ErrorIs(t, err, ErrEmptyContent)

	failing := NewService(stubAnalyzer{err: errors.New("down")}, 0, nil)
	defer failing.Close()
	resp, err = failing.Send(context.Background(), Analyze{Content: "x"})
	assert.Error(t, err)
	assert.Contains(t, resp.Error, "down")

	serviceErr := NewService(stubAnalyzer{resp: &model.AnalysisResponse{Error: "quota"}}, 0, nil)
	defer serviceErr.Close()
	resp, err = serviceErr.Send(context.Background(), Analyze{Content: "x"})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	assert.Equal(t, "quota", resp.Error)

	none := NewService(nil, 0, nil)
	defer none.Close()
	_, err = none.Send(context.Background(), Analyze{Content: "x"})
	assert.ErrorIs(t, err, ErrNoAnalyzer)
}

type bogusRequest struct{ AuthStatus }

func TestService_UnknownRequest(t *testing.T) {
	s := NewService(nil, 0, nil)
	defer s.Close()

	_, err := s.Send(context.Background(), bogusRequest{})
	assert.ErrorIs(t, err, ErrUnknownRequest)
}

func TestService_CancelledContext(t *testing.T) {
	s := NewService(nil, 0, nil)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Send(ctx, login("t"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, s.Current())
}

func TestService_CloseEndsSubscriptions(t *testing.T) {
	s := NewService(nil, 0, nil)
	events, unsubscribe := s.Subscribe()

	s.Close()
	_, open := <-events
	assert.False(t, open)
	unsubscribe()

	late, _ := s.Subscribe()
	_, open = <-late
	assert.False(t, open)
}
