package authstate_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/curiobid/go-marketplace-client/authstate"
	"github.com/curiobid/go-marketplace-client/backend"
	"github.com/curiobid/go-marketplace-client/backend/backendfake"
	"github.com/curiobid/go-marketplace-client/internal/utils"
	"github.com/curiobid/go-marketplace-client/session"
)

const (
	testUserID    = "user-1"
	testUserEmail = "collector@example.com"
	testUsername  = "cardshark"
)

func testSession() *session.Session {
	return &session.Session{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User: session.Identity{
			ID:       testUserID,
			Email:    testUserEmail,
			Metadata: map[string]string{"username": "meta-name"},
		},
	}
}

func testRow() *backend.ProfileRow {
	return &backend.ProfileRow{
		ID:       testUserID,
		Email:    testUserEmail,
		Username: testUsername,
		Level:    utils.Ptr(4),
		XP:       utils.Ptr(350),
		XPToNext: utils.Ptr(2000),
	}
}

type testFixture struct {
	backend *backendfake.FakeBackend
	manager *authstate.Manager
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	fb := backendfake.NewFakeBackend()
	m, err := authstate.NewManager(fb)
	require.NoError(t, err)

	return &testFixture{backend: fb, manager: m}
}

func waitForState(t *testing.T, m *authstate.Manager, cond func(authstate.State) bool) authstate.State {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(m.GetState())
	}, time.Second, 5*time.Millisecond)
	return m.GetState()
}

func TestNewManagerRequiresBackend(t *testing.T) {
	_, err := authstate.NewManager(nil)
	require.Error(t, err)
}

func TestSubscribeReceivesImmediateSnapshot(t *testing.T) {
	f := setupTestFixture(t)

	var got []authstate.State
	var mu sync.Mutex
	unsubscribe := f.manager.Subscribe(func(st authstate.State) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	})
	defer unsubscribe()

	mu.Lock()
	require.NotEmpty(t, got)
	require.True(t, got[0].Loading)
	require.False(t, got[0].Initialized)
	mu.Unlock()
}

func TestConcurrentSubscribersShareOneInitialization(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.GetSessionDelay = 50 * time.Millisecond
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())

	for i := 0; i < 5; i++ {
		defer f.manager.Subscribe(func(authstate.State) {})()
	}

	waitForState(t, f.manager, func(st authstate.State) bool {
		return st.Initialized
	})
	require.Equal(t, 1, f.backend.GetSessionCalls())
}

func TestInitializeWithoutSessionIsTerminalUnauthenticated(t *testing.T) {
	f := setupTestFixture(t)

	require.NoError(t, f.manager.Initialize(context.Background()))

	st := f.manager.GetState()
	require.True(t, st.Initialized)
	require.False(t, st.Loading)
	require.False(t, st.IsAuthenticated)
	require.Nil(t, st.User)
	require.Nil(t, st.Session)
}

func TestInitializeWithSessionLoadsProfile(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())

	require.NoError(t, f.manager.Initialize(context.Background()))

	st := f.manager.GetState()
	require.True(t, st.IsAuthenticated)
	require.NotNil(t, st.User)
	require.Equal(t, testUsername, st.User.Username)
	require.Equal(t, 4, st.User.Level)
	require.Equal(t, authstate.SourceFetched, st.User.Source)
}

func TestProfileRowOptionalFieldsMapThrough(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	row := testRow()
	row.FullName = utils.Ptr("Sam Collector")
	row.PriceRangeMin = utils.Ptr(10.0)
	row.PriceRangeMax = utils.Ptr(250.0)
	row.OnboardingCompleted = utils.Ptr(true)
	f.backend.SetRow(row)

	require.NoError(t, f.manager.Initialize(context.Background()))

	u := f.manager.GetState().User
	require.Equal(t, "Sam Collector", u.FullName)
	require.Empty(t, u.Bio)
	require.Empty(t, u.AvatarURL)
	require.Equal(t, authstate.PriceRange{Min: 10, Max: 250}, u.Preferences.PriceRange)
	require.True(t, u.OnboardingCompleted)
}

func TestMissingProfileRowSynthesizesFallback(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	// No row seeded: FetchUserRow returns ErrNotFound.

	require.NoError(t, f.manager.Initialize(context.Background()))

	st := f.manager.GetState()
	require.True(t, st.IsAuthenticated)
	require.NotNil(t, st.User)
	require.Equal(t, authstate.SourceFallback, st.User.Source)
	require.Equal(t, "meta-name", st.User.Username)
	require.Equal(t, 1, st.User.Level)
	require.Equal(t, 0, st.User.XP)
	require.Equal(t, 1000, st.User.XPToNext)
}

func TestFallbackUsernameDefaultsToUser(t *testing.T) {
	f := setupTestFixture(t)
	sess := testSession()
	sess.User.Metadata = nil
	f.backend.SetSession(sess)

	require.NoError(t, f.manager.Initialize(context.Background()))
	require.Equal(t, "user", f.manager.GetState().User.Username)
}

func TestProfileFetchFailureDegradesToFallback(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.FetchRowErr = errors.New("row fetch blew up")

	require.NoError(t, f.manager.Initialize(context.Background()))

	st := f.manager.GetState()
	require.True(t, st.IsAuthenticated)
	require.Equal(t, authstate.SourceFallback, st.User.Source)
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())

	require.NoError(t, f.manager.Initialize(context.Background()))
	require.NoError(t, f.manager.Initialize(context.Background()))

	require.Equal(t, 1, f.backend.GetSessionCalls())
	require.Equal(t, 1, f.backend.ListenerCount())
}

func TestSignedOutEventClearsState(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))

	f.backend.Emit(backend.EventSignedOut, nil)

	st := f.manager.GetState()
	require.False(t, st.IsAuthenticated)
	require.Nil(t, st.User)
	require.True(t, st.Initialized)
}

func TestSignedInEventLoadsProfile(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))
	require.False(t, f.manager.GetState().IsAuthenticated)

	f.backend.SetRow(testRow())
	f.backend.Emit(backend.EventSignedIn, testSession())

	st := waitForState(t, f.manager, func(st authstate.State) bool {
		return st.IsAuthenticated
	})
	require.Equal(t, testUsername, st.User.Username)
}

func TestSignOutClearsLocallyEvenWhenRemoteFails(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))
	f.backend.SignOutErr = errors.New("network down")

	f.manager.SignOut(context.Background())

	st := f.manager.GetState()
	require.False(t, st.IsAuthenticated)
	require.Nil(t, st.Session)
	require.Equal(t, 1, f.backend.SignOutCalls())
}

func TestSignOutClearsBeforeRemoteResolves(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))
	f.backend.SignOutBlock = make(chan struct{})

	signOutDone := make(chan struct{})
	go func() {
		f.manager.SignOut(context.Background())
		close(signOutDone)
	}()

	// The local clear is synchronous; it must not wait on the remote call.
	st := waitForState(t, f.manager, func(st authstate.State) bool {
		return !st.IsAuthenticated
	})
	require.Nil(t, st.User)
	select {
	case <-signOutDone:
		t.Fatal("SignOut returned before the remote call resolved")
	default:
	}

	close(f.backend.SignOutBlock)
	<-signOutDone
}

func TestListenersNotifiedInOrderAndPanicsContained(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))

	var mu sync.Mutex
	var order []string
	record := func(name string) authstate.Listener {
		return func(authstate.State) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	defer f.manager.Subscribe(record("first"))()
	defer f.manager.Subscribe(func(authstate.State) {
		mu.Lock()
		order = append(order, "panicker")
		mu.Unlock()
		panic("listener exploded")
	})()
	defer f.manager.Subscribe(record("last"))()

	// Each subscriber got its immediate snapshot; the panicker did not
	// break the later subscriptions. Now drive one transition and confirm
	// the fan-out reaches everyone, in registration order, despite the
	// panic in the middle.
	f.backend.Emit(backend.EventUserUpdated, testSession())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 6
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	require.Equal(t, []string{"first", "panicker", "last", "first", "panicker", "last"}, order)
	mu.Unlock()
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))

	var mu sync.Mutex
	calls := 0
	unsubscribe := f.manager.Subscribe(func(authstate.State) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	unsubscribe()

	f.backend.Emit(backend.EventSignedOut, nil)

	mu.Lock()
	require.Equal(t, 1, calls) // only the immediate snapshot
	mu.Unlock()
}

func TestGetStateReturnsSnapshotCopy(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))

	st := f.manager.GetState()
	st.User.Username = "mutated"

	require.Equal(t, testUsername, f.manager.GetState().User.Username)
}

func TestRefreshUserWithoutSessionIsNoOp(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	profile, err := f.manager.RefreshUser(context.Background())
	require.NoError(t, err)
	require.Nil(t, profile)
	require.Equal(t, 0, f.backend.FetchRowCalls())
}

func TestMutationsRequireAuthentication(t *testing.T) {
	f := setupTestFixture(t)
	require.NoError(t, f.manager.Initialize(context.Background()))

	ctx := context.Background()
	_, err := f.manager.UpdateProfile(ctx, map[string]any{"bio": "hello"})
	require.ErrorIs(t, err, backend.ErrNotAuthenticated)

	_, err = f.manager.AddXP(ctx, 50)
	require.ErrorIs(t, err, backend.ErrNotAuthenticated)

	_, err = f.manager.AddFavoriteCharacter(ctx, "pikachu")
	require.ErrorIs(t, err, backend.ErrNotAuthenticated)
}

func TestUpdateProfileRefreshesAfterMutation(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))

	profile, err := f.manager.UpdateProfile(context.Background(), map[string]any{"username": "newname"})
	require.NoError(t, err)
	require.Equal(t, "newname", profile.Username)
	require.Equal(t, "newname", f.manager.GetState().User.Username)
}

func TestUpdateProfileConflictPropagates(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))
	f.backend.UpdateRowErr = backend.ErrConflict

	_, err := f.manager.UpdateProfile(context.Background(), map[string]any{"username": "taken"})
	require.ErrorIs(t, err, backend.ErrConflict)
}

func TestAddXPCallsProcedureAndRefreshes(t *testing.T) {
	f := setupTestFixture(t)
	f.backend.SetSession(testSession())
	f.backend.SetRow(testRow())
	require.NoError(t, f.manager.Initialize(context.Background()))

	before := f.backend.FetchRowCalls()
	profile, err := f.manager.AddXP(context.Background(), 50)
	require.NoError(t, err)
	require.NotNil(t, profile)
	require.Equal(t, 1, f.backend.ProcedureCalls())
	require.Greater(t, f.backend.FetchRowCalls(), before)
}
