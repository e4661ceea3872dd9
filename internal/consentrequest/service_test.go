package consentrequest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/consent-api/internal/accessgrant"
	grantModel "github.com/carebridge/consent-api/internal/accessgrant/model"
	"github.com/carebridge/consent-api/internal/consentrequest/model"
	"github.com/carebridge/consent-api/internal/notification"
	notificationModel "github.com/carebridge/consent-api/internal/notification/model"
	"github.com/carebridge/consent-api/internal/scope"
	"github.com/carebridge/consent-api/internal/system/constants"
	"github.com/carebridge/consent-api/internal/system/database/dbtest"
	dbmodel "github.com/carebridge/consent-api/internal/system/database/model"
	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
	"github.com/carebridge/consent-api/internal/system/stores"
	"github.com/carebridge/consent-api/internal/system/stores/interfaces"
	"github.com/carebridge/consent-api/internal/system/testutil"
	"github.com/carebridge/consent-api/internal/system/utils"
)

const (
	patientID = "patient-1"
	doctorID  = "doctor-1"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	service  ConsentRequestService
	grants   accessgrant.AccessGrantService
	registry *stores.StoreRegistry
	clock    *testutil.Clock
	notifier *testutil.RecordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client := dbtest.NewSQLiteClient(t)
	registry := stores.NewStoreRegistry(client, NewStore(client), accessgrant.NewStore(client), notification.NewStore(client))
	clock := testutil.NewClock(t0)
	notifier := &testutil.RecordingNotifier{}

	return &testEnv{
		service:  NewConsentRequestService(registry, notifier, clock.Now),
		grants:   accessgrant.NewAccessGrantService(registry, clock.Now),
		registry: registry,
		clock:    clock,
		notifier: notifier,
	}
}

func (e *testEnv) create(t *testing.T, scopes ...string) *model.ConsentRequest {
	t.Helper()
	req, err := e.service.CreateRequest(context.Background(), patientID, doctorID, "follow-up", scopes, 30, nil)
	require.Nil(t, err)
	return req
}

func (e *testEnv) approved(t *testing.T, scopes ...string) *model.ConsentRequest {
	t.Helper()
	req := e.create(t, scopes...)
	approved, err := e.service.Approve(context.Background(), req.RequestID, patientID)
	require.Nil(t, err)
	return approved
}

func (e *testEnv) grantsFor(t *testing.T, requestID string) []grantModel.AccessGrant {
	t.Helper()
	grants, err := e.grants.ListForRequest(context.Background(), requestID)
	require.Nil(t, err)
	return grants
}

func (e *testEnv) activeGrants(t *testing.T) []grantModel.AccessGrant {
	t.Helper()
	grants, err := e.grants.ListForPatient(context.Background(), patientID, false)
	require.Nil(t, err)
	var active []grantModel.AccessGrant
	for _, g := range grants {
		if g.Status == grantModel.StatusActive {
			active = append(active, g)
		}
	}
	return active
}

func (e *testEnv) hasAccess(t *testing.T, recordType scope.RecordType) bool {
	t.Helper()
	allowed, err := e.grants.HasAccess(context.Background(), doctorID, patientID, recordType)
	require.Nil(t, err)
	return allowed
}

func TestCreateRequest_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		patient  string
		doctor   string
		purpose  string
		scopes   []string
		duration int
	}{
		{"empty scopes", patientID, doctorID, "care", nil, 30},
		{"unknown scope", patientID, doctorID, "care", []string{"lab_test", "genome"}, 30},
		{"zero duration", patientID, doctorID, "care", []string{"lab_test"}, 0},
		{"negative duration", patientID, doctorID, "care", []string{"lab_test"}, -3},
		{"missing patient", "", doctorID, "care", []string{"lab_test"}, 30},
		{"missing doctor", patientID, "", "care", []string{"lab_test"}, 30},
		{"self request", doctorID, doctorID, "care", []string{"lab_test"}, 30},
		{"blank purpose", patientID, doctorID, "   ", []string{"lab_test"}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.CreateRequest(ctx, tt.patient, tt.doctor, tt.purpose, tt.scopes, tt.duration, nil)
			require.NotNil(t, err)
			assert.True(t, serviceerror.Is(err, serviceerror.ValidationError))
		})
	}
	assert.Empty(t, env.notifier.Calls())
}

func TestCreateRequest_DeduplicatesAndNotifiesPatient(t *testing.T) {
	env := newTestEnv(t)
	message := "please share"

	req, err := env.service.CreateRequest(context.Background(), patientID, doctorID, "follow-up",
		[]string{"prescription", "lab_test", "prescription"}, 14, &message)
	require.Nil(t, err)

	assert.Equal(t, model.StatusPending, req.Status)
	assert.Nil(t, req.RespondedAt)
	assert.Nil(t, req.ExpiresAt)
	assert.Equal(t, utils.TimeToMillis(t0), req.RequestedAt)
	assert.Equal(t, []scope.RecordType{scope.RecordTypeLabTest, scope.RecordTypePrescription}, req.RequestedScopes)

	stored, serviceErr := env.service.GetRequest(context.Background(), req.RequestID)
	require.Nil(t, serviceErr)
	assert.Equal(t, []scope.RecordType{scope.RecordTypeLabTest, scope.RecordTypePrescription}, stored.RequestedScopes)
	require.NotNil(t, stored.Message)
	assert.Equal(t, message, *stored.Message)

	calls := env.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, patientID, calls[0].RecipientID)
	assert.Equal(t, notificationModel.TypeConsentRequested, calls[0].Type)
	assert.Equal(t, req.RequestID, calls[0].RequestID)
}

func TestApprove_FansOutOneGrantPerScope(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t, "lab_test", "prescription", "consultation", "lab_test")
	env.notifier.Reset()

	env.clock.Advance(time.Hour)
	approved, err := env.service.Approve(context.Background(), req.RequestID, patientID)
	require.Nil(t, err)

	approvedAt := utils.TimeToMillis(t0.Add(time.Hour))
	assert.Equal(t, model.StatusApproved, approved.Status)
	require.NotNil(t, approved.RespondedAt)
	assert.Equal(t, approvedAt, *approved.RespondedAt)
	require.NotNil(t, approved.ExpiresAt)
	assert.Equal(t, utils.AddDays(approvedAt, 30), *approved.ExpiresAt)

	grants := env.grantsFor(t, req.RequestID)
	require.Len(t, grants, 3)
	accessTypes := map[scope.RecordType]scope.AccessType{}
	for _, g := range grants {
		assert.Equal(t, grantModel.StatusActive, g.Status)
		assert.Equal(t, *approved.ExpiresAt, g.ExpiresAt)
		assert.Equal(t, approvedAt, g.GrantedAt)
		accessTypes[g.Scope] = g.AccessType
	}
	assert.Equal(t, map[scope.RecordType]scope.AccessType{
		scope.RecordTypeLabTest:      scope.AccessTypeViewRecords,
		scope.RecordTypePrescription: scope.AccessTypeViewPrescriptions,
		scope.RecordTypeConsultation: scope.AccessTypeViewConsultationNotes,
	}, accessTypes)

	calls := env.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, doctorID, calls[0].RecipientID)
	assert.Equal(t, notificationModel.TypeConsentApproved, calls[0].Type)
}

func TestTransitions_Preconditions(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown request", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.service.Approve(ctx, "missing", patientID)
		assert.True(t, serviceerror.Is(err, serviceerror.ResourceNotFoundError))
	})

	t.Run("responder is not the patient", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.create(t, "lab_test")

		_, err := env.service.Approve(ctx, req.RequestID, doctorID)
		assert.True(t, serviceerror.Is(err, serviceerror.UnauthorizedError))
		_, err = env.service.Deny(ctx, req.RequestID, "someone-else", nil)
		assert.True(t, serviceerror.Is(err, serviceerror.UnauthorizedError))

		stored, _ := env.service.GetRequest(ctx, req.RequestID)
		assert.Equal(t, model.StatusPending, stored.Status)
	})

	t.Run("double approve", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.approved(t, "lab_test")

		_, err := env.service.Approve(ctx, req.RequestID, patientID)
		assert.True(t, serviceerror.Is(err, serviceerror.InvalidTransitionError))
		assert.Len(t, env.grantsFor(t, req.RequestID), 1)
	})

	t.Run("approve a denied request", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.create(t, "lab_test")
		_, err := env.service.Deny(ctx, req.RequestID, patientID, nil)
		require.Nil(t, err)

		_, err = env.service.Approve(ctx, req.RequestID, patientID)
		assert.True(t, serviceerror.Is(err, serviceerror.InvalidTransitionError))
		assert.Empty(t, env.grantsFor(t, req.RequestID))
	})

	t.Run("revoke a pending request", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.create(t, "lab_test")

		_, err := env.service.Revoke(ctx, req.RequestID, patientID)
		assert.True(t, serviceerror.Is(err, serviceerror.InvalidTransitionError))
	})

	t.Run("doctor cannot revoke", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.approved(t, "lab_test")

		_, err := env.service.Revoke(ctx, req.RequestID, doctorID)
		assert.True(t, serviceerror.Is(err, serviceerror.UnauthorizedError))
		assert.True(t, env.hasAccess(t, scope.RecordTypeLabTest))
	})

	t.Run("extend a pending request", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.create(t, "lab_test")

		_, err := env.service.Extend(ctx, req.RequestID, patientID, 5)
		assert.True(t, serviceerror.Is(err, serviceerror.InvalidTransitionError))
	})

	t.Run("extend by zero days", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.approved(t, "lab_test")

		_, err := env.service.Extend(ctx, req.RequestID, patientID, 0)
		assert.True(t, serviceerror.Is(err, serviceerror.ValidationError))
	})
}

func TestDeny(t *testing.T) {
	env := newTestEnv(t)
	req := env.create(t, "imaging")
	env.notifier.Reset()
	reason := "not needed"

	env.clock.Advance(time.Minute)
	denied, err := env.service.Deny(context.Background(), req.RequestID, patientID, &reason)
	require.Nil(t, err)

	assert.Equal(t, model.StatusDenied, denied.Status)
	require.NotNil(t, denied.RespondedAt)
	assert.Nil(t, denied.ExpiresAt)
	require.NotNil(t, denied.ResponseReason)
	assert.Equal(t, reason, *denied.ResponseReason)
	assert.Empty(t, env.grantsFor(t, req.RequestID))

	calls := env.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, doctorID, calls[0].RecipientID)
	assert.Equal(t, notificationModel.TypeConsentDenied, calls[0].Type)
	assert.Contains(t, calls[0].Message, reason)
}

func TestScenario_ApproveThenRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req, err := env.service.CreateRequest(ctx, patientID, doctorID, "diabetes review",
		[]string{"lab_test", "prescription"}, 30, nil)
	require.Nil(t, err)

	approved, err := env.service.Approve(ctx, req.RequestID, patientID)
	require.Nil(t, err)

	grants := env.grantsFor(t, req.RequestID)
	require.Len(t, grants, 2)
	for _, g := range grants {
		assert.Equal(t, utils.AddDays(utils.TimeToMillis(t0), 30), g.ExpiresAt)
		assert.Equal(t, *approved.ExpiresAt, g.ExpiresAt)
	}
	assert.True(t, env.hasAccess(t, scope.RecordTypeLabTest))

	env.clock.Advance(72 * time.Hour)
	env.notifier.Reset()
	revoked, err := env.service.Revoke(ctx, req.RequestID, patientID)
	require.Nil(t, err)
	assert.Equal(t, model.StatusRevoked, revoked.Status)
	assert.Equal(t, *approved.ExpiresAt, *revoked.ExpiresAt)

	for _, g := range env.grantsFor(t, req.RequestID) {
		assert.Equal(t, grantModel.StatusRevoked, g.Status)
	}
	assert.Empty(t, env.activeGrants(t))
	assert.False(t, env.hasAccess(t, scope.RecordTypeLabTest))
	assert.False(t, env.hasAccess(t, scope.RecordTypePrescription))

	calls := env.notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, notificationModel.TypeConsentRevoked, calls[0].Type)
	assert.Equal(t, doctorID, calls[0].RecipientID)
}

func TestRevoke_LeavesOtherScopesActive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.approved(t, "lab_test", "imaging")
	second := env.approved(t, "vaccination")

	_, err := env.service.Revoke(ctx, first.RequestID, patientID)
	require.Nil(t, err)

	active := env.activeGrants(t)
	require.Len(t, active, 1)
	assert.Equal(t, scope.RecordTypeVaccination, active[0].Scope)
	assert.Equal(t, second.RequestID, active[0].RequestID)
}

func TestApprove_UpsertsExistingActiveGrant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.approved(t, "lab_test", "imaging")

	env.clock.Advance(24 * time.Hour)
	second, err := env.service.CreateRequest(ctx, patientID, doctorID, "second opinion", []string{"lab_test"}, 60, nil)
	require.Nil(t, err)
	approved, err := env.service.Approve(ctx, second.RequestID, patientID)
	require.Nil(t, err)

	active := env.activeGrants(t)
	require.Len(t, active, 2)
	for _, g := range active {
		switch g.Scope {
		case scope.RecordTypeLabTest:
			assert.Equal(t, second.RequestID, g.RequestID)
			assert.Equal(t, *approved.ExpiresAt, g.ExpiresAt)
		case scope.RecordTypeImaging:
			assert.Equal(t, first.RequestID, g.RequestID)
			assert.Equal(t, *first.ExpiresAt, g.ExpiresAt)
		default:
			t.Fatalf("unexpected scope %s", g.Scope)
		}
	}
}

func TestApprove_UpsertNeverShortensExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	long, err := env.service.CreateRequest(ctx, patientID, doctorID, "long", []string{"lab_test"}, 90, nil)
	require.Nil(t, err)
	long, err = env.service.Approve(ctx, long.RequestID, patientID)
	require.Nil(t, err)

	short, err := env.service.CreateRequest(ctx, patientID, doctorID, "short", []string{"lab_test"}, 7, nil)
	require.Nil(t, err)
	short, err = env.service.Approve(ctx, short.RequestID, patientID)
	require.Nil(t, err)

	// The grant keeps the longer expiry, so it no longer matches the shorter request.
	active := env.activeGrants(t)
	require.Len(t, active, 1)
	assert.Equal(t, *long.ExpiresAt, active[0].ExpiresAt)
	assert.NotEqual(t, *short.ExpiresAt, active[0].ExpiresAt)
	assert.Equal(t, long.RequestID, active[0].RequestID)
	assert.Empty(t, env.grantsFor(t, short.RequestID))
}

func TestExtend_FollowsGrantAcrossReapproval(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		firstDays  int
		secondDays int
		extendDays int
	}{
		{name: "shorter reapproval", firstDays: 60, secondDays: 10, extendDays: 30},
		{name: "longer reapproval", firstDays: 10, secondDays: 30, extendDays: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			first, err := env.service.CreateRequest(ctx, patientID, doctorID, "first", []string{"lab_test"}, tt.firstDays, nil)
			require.Nil(t, err)
			_, err = env.service.Approve(ctx, first.RequestID, patientID)
			require.Nil(t, err)

			env.clock.Advance(24 * time.Hour)
			second, err := env.service.CreateRequest(ctx, patientID, doctorID, "second", []string{"lab_test"}, tt.secondDays, nil)
			require.Nil(t, err)
			_, err = env.service.Approve(ctx, second.RequestID, patientID)
			require.Nil(t, err)

			extended, err := env.service.Extend(ctx, first.RequestID, patientID, tt.extendDays)
			require.Nil(t, err)

			active := env.activeGrants(t)
			require.Len(t, active, 1)
			assert.Equal(t, *extended.ExpiresAt, active[0].ExpiresAt)
			assert.Equal(t, first.RequestID, active[0].RequestID)

			// Past the second request's expiry but inside the extended window.
			env.clock.Set(time.UnixMilli(*extended.ExpiresAt).Add(-24 * time.Hour))
			acted, err := env.service.Expire(ctx, second.RequestID, env.clock.Now())
			require.Nil(t, err)
			assert.True(t, acted)

			current, err := env.service.GetRequest(ctx, first.RequestID)
			require.Nil(t, err)
			assert.Equal(t, model.StatusApproved, current.Status)
			assert.True(t, env.hasAccess(t, scope.RecordTypeLabTest))
		})
	}
}

func TestExpire_LeavesGrantHeldByLongerRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	long, err := env.service.CreateRequest(ctx, patientID, doctorID, "long", []string{"lab_test"}, 60, nil)
	require.Nil(t, err)
	long, err = env.service.Approve(ctx, long.RequestID, patientID)
	require.Nil(t, err)

	env.clock.Advance(24 * time.Hour)
	short, err := env.service.CreateRequest(ctx, patientID, doctorID, "short", []string{"lab_test"}, 10, nil)
	require.Nil(t, err)
	_, err = env.service.Approve(ctx, short.RequestID, patientID)
	require.Nil(t, err)

	env.clock.Advance(12 * 24 * time.Hour)
	acted, err := env.service.Expire(ctx, short.RequestID, env.clock.Now())
	require.Nil(t, err)
	assert.True(t, acted)

	active := env.activeGrants(t)
	require.Len(t, active, 1)
	assert.Equal(t, long.RequestID, active[0].RequestID)
	assert.Equal(t, *long.ExpiresAt, active[0].ExpiresAt)
	assert.True(t, env.hasAccess(t, scope.RecordTypeLabTest))

	// Every active grant still points at an approved request.
	parent, err := env.service.GetRequest(ctx, active[0].RequestID)
	require.Nil(t, err)
	assert.Equal(t, model.StatusApproved, parent.Status)
}

func TestExtend(t *testing.T) {
	ctx := context.Background()

	t.Run("before expiry extends from current expiry", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.approved(t, "lab_test", "prescription")
		before := *req.ExpiresAt

		env.clock.Advance(10 * 24 * time.Hour)
		env.notifier.Reset()
		extended, err := env.service.Extend(ctx, req.RequestID, patientID, 5)
		require.Nil(t, err)

		assert.Equal(t, utils.AddDays(before, 5), *extended.ExpiresAt)
		for _, g := range env.grantsFor(t, req.RequestID) {
			assert.Equal(t, *extended.ExpiresAt, g.ExpiresAt)
		}

		calls := env.notifier.Calls()
		require.Len(t, calls, 1)
		assert.Equal(t, notificationModel.TypeConsentExtended, calls[0].Type)
		assert.Equal(t, doctorID, calls[0].RecipientID)
	})

	t.Run("after unswept expiry extends from now", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.approved(t, "lab_test")
		before := *req.ExpiresAt

		env.clock.Advance(45 * 24 * time.Hour)
		assert.False(t, env.hasAccess(t, scope.RecordTypeLabTest))

		extended, err := env.service.Extend(ctx, req.RequestID, patientID, 3)
		require.Nil(t, err)

		want := utils.AddDays(utils.TimeToMillis(env.clock.Now()), 3)
		assert.Equal(t, want, *extended.ExpiresAt)
		assert.Greater(t, *extended.ExpiresAt, before)
		assert.True(t, env.hasAccess(t, scope.RecordTypeLabTest))
	})

	t.Run("only the patient can extend", func(t *testing.T) {
		env := newTestEnv(t)
		req := env.approved(t, "lab_test")

		_, err := env.service.Extend(ctx, req.RequestID, doctorID, 3)
		assert.True(t, serviceerror.Is(err, serviceerror.UnauthorizedError))
	})
}

func TestExpire(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.approved(t, "lab_test", "prescription")

	acted, err := env.service.Expire(ctx, req.RequestID, t0.Add(29*24*time.Hour))
	require.Nil(t, err)
	assert.False(t, acted)

	env.notifier.Reset()
	sweepAt := t0.Add(31 * 24 * time.Hour)
	acted, err = env.service.Expire(ctx, req.RequestID, sweepAt)
	require.Nil(t, err)
	assert.True(t, acted)

	stored, _ := env.service.GetRequest(ctx, req.RequestID)
	assert.Equal(t, model.StatusExpired, stored.Status)
	assert.Equal(t, *req.ExpiresAt, *stored.ExpiresAt)
	for _, g := range env.grantsFor(t, req.RequestID) {
		assert.Equal(t, grantModel.StatusExpired, g.Status)
	}

	calls := env.notifier.Calls()
	require.Len(t, calls, 2)
	recipients := []string{calls[0].RecipientID, calls[1].RecipientID}
	assert.ElementsMatch(t, []string{doctorID, patientID}, recipients)

	acted, err = env.service.Expire(ctx, req.RequestID, sweepAt)
	require.Nil(t, err)
	assert.False(t, acted)

	acted, err = env.service.Expire(ctx, "missing", sweepAt)
	require.Nil(t, err)
	assert.False(t, acted)
}

func TestConcurrentApproveAndDeny(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		req := env.create(t, "lab_test", "imaging")

		var (
			wg      sync.WaitGroup
			results = make([]*serviceerror.ServiceError, 2)
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, results[0] = env.service.Approve(ctx, req.RequestID, patientID)
		}()
		go func() {
			defer wg.Done()
			_, results[1] = env.service.Deny(ctx, req.RequestID, patientID, nil)
		}()
		wg.Wait()

		succeeded := 0
		for _, err := range results {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, serviceerror.Is(err, serviceerror.InvalidTransitionError))
		}
		assert.Equal(t, 1, succeeded)

		stored, _ := env.service.GetRequest(ctx, req.RequestID)
		grants := env.grantsFor(t, req.RequestID)
		if stored.Status == model.StatusApproved {
			assert.Len(t, grants, 2)
		} else {
			assert.Equal(t, model.StatusDenied, stored.Status)
			assert.Empty(t, grants)
		}

		if stored.Status == model.StatusApproved {
			_, err := env.service.Revoke(ctx, req.RequestID, patientID)
			require.Nil(t, err)
		}
	}
}

func TestNotificationFailureDoesNotFailTransition(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.Err = serviceerror.CustomServiceError(serviceerror.DatabaseError, "outbox unavailable")

	req := env.create(t, "lab_test")
	approved, err := env.service.Approve(context.Background(), req.RequestID, patientID)
	require.Nil(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	assert.True(t, env.hasAccess(t, scope.RecordTypeLabTest))
	assert.Len(t, env.notifier.Calls(), 2)
}

func TestGetStatusHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := env.create(t, "lab_test")
	env.clock.Advance(time.Minute)
	_, err := env.service.Approve(ctx, req.RequestID, patientID)
	require.Nil(t, err)
	env.clock.Advance(time.Minute)
	_, err = env.service.Extend(ctx, req.RequestID, patientID, 2)
	require.Nil(t, err)
	env.clock.Advance(time.Minute)
	_, err = env.service.Revoke(ctx, req.RequestID, patientID)
	require.Nil(t, err)

	history, err := env.service.GetStatusHistory(ctx, req.RequestID)
	require.Nil(t, err)
	require.Len(t, history, 4)

	assert.Equal(t, model.StatusPending, history[0].CurrentStatus)
	assert.Nil(t, history[0].PreviousStatus)
	assert.Equal(t, doctorID, history[0].ActionBy)

	assert.Equal(t, model.StatusApproved, history[1].CurrentStatus)
	assert.Equal(t, model.StatusApproved, history[2].CurrentStatus)
	require.NotNil(t, history[2].Reason)
	assert.Contains(t, *history[2].Reason, "2 days")

	assert.Equal(t, model.StatusRevoked, history[3].CurrentStatus)
	require.NotNil(t, history[3].PreviousStatus)
	assert.Equal(t, model.StatusApproved, *history[3].PreviousStatus)
	assert.Equal(t, patientID, history[3].ActionBy)

	_, err = env.service.GetStatusHistory(ctx, "missing")
	assert.True(t, serviceerror.Is(err, serviceerror.ResourceNotFoundError))
}

func TestExpire_RecordsSystemActor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.approved(t, "lab_test")

	_, err := env.service.Expire(ctx, req.RequestID, t0.Add(31*24*time.Hour))
	require.Nil(t, err)

	history, err := env.service.GetStatusHistory(ctx, req.RequestID)
	require.Nil(t, err)
	last := history[len(history)-1]
	assert.Equal(t, model.StatusExpired, last.CurrentStatus)
	assert.Equal(t, constants.SystemActor, last.ActionBy)
}

func TestListForPatientAndDoctor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		env.create(t, "lab_test", "imaging")
		env.clock.Advance(time.Second)
	}
	_, err := env.service.CreateRequest(ctx, "patient-2", doctorID, "other", []string{"other"}, 5, nil)
	require.Nil(t, err)

	page, err := env.service.ListForPatient(ctx, patientID, 2, 0)
	require.Nil(t, err)
	assert.Equal(t, 3, page.Metadata.Total)
	assert.Equal(t, 2, page.Metadata.Count)
	require.Len(t, page.Data, 2)
	assert.GreaterOrEqual(t, page.Data[0].RequestedAt, page.Data[1].RequestedAt)
	assert.Len(t, page.Data[0].RequestedScopes, 2)

	page, err = env.service.ListForDoctor(ctx, doctorID, 0, 0)
	require.Nil(t, err)
	assert.Equal(t, 4, page.Metadata.Total)
	assert.Equal(t, constants.DefaultPageSize, page.Metadata.Limit)

	_, err = env.service.ListForPatient(ctx, patientID, constants.MaxPageSize+1, 0)
	assert.True(t, serviceerror.Is(err, serviceerror.ValidationError))
}

// failingGrantStore fails grant inserts after the first one.
type failingGrantStore struct {
	interfaces.AccessGrantStore
	created int
}

func (f *failingGrantStore) Create(tx dbmodel.TxInterface, grant *grantModel.AccessGrant) error {
	if f.created > 0 {
		return errors.New("disk full")
	}
	f.created++
	return f.AccessGrantStore.Create(tx, grant)
}

func TestApprove_RollsBackWhenGrantWriteFails(t *testing.T) {
	client := dbtest.NewSQLiteClient(t)
	grants := &failingGrantStore{AccessGrantStore: accessgrant.NewStore(client)}
	registry := stores.NewStoreRegistry(client, NewStore(client), grants, notification.NewStore(client))
	clock := testutil.NewClock(t0)
	notifier := &testutil.RecordingNotifier{}
	service := NewConsentRequestService(registry, notifier, clock.Now)
	grantService := accessgrant.NewAccessGrantService(registry, clock.Now)
	ctx := context.Background()

	req, err := service.CreateRequest(ctx, patientID, doctorID, "review", []string{"lab_test", "imaging"}, 30, nil)
	require.Nil(t, err)
	notifier.Reset()

	_, err = service.Approve(ctx, req.RequestID, patientID)
	require.NotNil(t, err)
	assert.True(t, serviceerror.Is(err, serviceerror.DatabaseError))

	stored, err := service.GetRequest(ctx, req.RequestID)
	require.Nil(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
	assert.Nil(t, stored.ExpiresAt)

	written, err := grantService.ListForRequest(ctx, req.RequestID)
	require.Nil(t, err)
	assert.Empty(t, written)

	history, err := service.GetStatusHistory(ctx, req.RequestID)
	require.Nil(t, err)
	assert.Len(t, history, 1)
	assert.Empty(t, notifier.Calls())
}
