package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"emsdispatch/internal/models"
	"emsdispatch/internal/repositories/interfaces"
	"emsdispatch/internal/utils"
	"emsdispatch/pkg/logger"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeRequestRepo is an in-memory EMSRequestRepository. Every mutation holds
// the mutex for its full duration, so the guarded operations are atomic the
// same way the conditional MongoDB writes are.
type fakeRequestRepo struct {
	mu       sync.Mutex
	requests map[primitive.ObjectID]*models.EMSRequest
}

func newFakeRequestRepo() *fakeRequestRepo {
	return &fakeRequestRepo{requests: make(map[primitive.ObjectID]*models.EMSRequest)}
}

func (f *fakeRequestRepo) Create(ctx context.Context, request *models.EMSRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.requests {
		if existing.RequesterID == request.RequesterID && !existing.Status.IsTerminal() {
			return interfaces.ErrDuplicateActive
		}
	}

	now := time.Now()
	request.ID = primitive.NewObjectID()
	request.Status = models.EMSStatusPending
	request.PriorityLevel = request.Priority.Level()
	request.CreatedAt = now
	request.UpdatedAt = now

	stored := *request
	f.requests[request.ID] = &stored
	return nil
}

func (f *fakeRequestRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.EMSRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	request, ok := f.requests[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copy := *request
	return &copy, nil
}

func (f *fakeRequestRepo) Update(ctx context.Context, id primitive.ObjectID, updates map[string]interface{}) error {
	return nil
}

func (f *fakeRequestRepo) UpdateStatusGuarded(ctx context.Context, id primitive.ObjectID, fromStatus, toStatus models.EMSStatus, notes *string) (*models.EMSRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	request, ok := f.requests[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if request.Status != fromStatus {
		return nil, interfaces.ErrNoMatch
	}

	now := time.Now()
	request.Status = toStatus
	request.UpdatedAt = now
	if notes != nil {
		request.Notes = *notes
	}
	switch models.TimestampField(toStatus) {
	case "dispatch_time":
		request.DispatchTime = &now
	case "arrival_time":
		request.ArrivalTime = &now
	case "completion_time":
		request.CompletionTime = &now
	}

	copy := *request
	return &copy, nil
}

func (f *fakeRequestRepo) Claim(ctx context.Context, id primitive.ObjectID, responderID primitive.ObjectID, position *models.GeoPoint) (*models.EMSRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	request, ok := f.requests[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	for _, existing := range f.requests {
		if existing.ResponderID != nil && *existing.ResponderID == responderID && !existing.Status.IsTerminal() {
			return nil, interfaces.ErrDuplicateActive
		}
	}
	if request.Status != models.EMSStatusPending || request.ResponderID != nil {
		return nil, interfaces.ErrNoMatch
	}

	now := time.Now()
	request.ResponderID = &responderID
	request.Status = models.EMSStatusEnroute
	request.DispatchTime = &now
	request.UpdatedAt = now
	if position != nil {
		request.ResponderPosition = position
	}

	copy := *request
	return &copy, nil
}

func (f *fakeRequestRepo) UpdateResponderPosition(ctx context.Context, id primitive.ObjectID, position models.GeoPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	request, ok := f.requests[id]
	if !ok {
		return interfaces.ErrNotFound
	}
	request.ResponderPosition = &position
	request.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRequestRepo) GetActiveRequests(ctx context.Context) ([]*models.EMSRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var active []*models.EMSRequest
	for _, request := range f.requests {
		if !request.Status.IsTerminal() {
			copy := *request
			active = append(active, &copy)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].PriorityLevel != active[j].PriorityLevel {
			return active[i].PriorityLevel > active[j].PriorityLevel
		}
		return active[i].CreatedAt.Before(active[j].CreatedAt)
	})
	return active, nil
}

func (f *fakeRequestRepo) GetActiveByRequester(ctx context.Context, requesterID primitive.ObjectID) (*models.EMSRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, request := range f.requests {
		if request.RequesterID == requesterID && !request.Status.IsTerminal() {
			copy := *request
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRequestRepo) GetActiveByResponder(ctx context.Context, responderID primitive.ObjectID) (*models.EMSRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, request := range f.requests {
		if request.ResponderID != nil && *request.ResponderID == responderID && !request.Status.IsTerminal() {
			copy := *request
			return &copy, nil
		}
	}
	return nil, nil
}

func (f *fakeRequestRepo) GetByRequester(ctx context.Context, requesterID primitive.ObjectID, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []*models.EMSRequest
	for _, request := range f.requests {
		if request.RequesterID == requesterID {
			copy := *request
			matches = append(matches, &copy)
		}
	}
	return matches, int64(len(matches)), nil
}

func (f *fakeRequestRepo) GetByResponder(ctx context.Context, responderID primitive.ObjectID, params *utils.PaginationParams) ([]*models.EMSRequest, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []*models.EMSRequest
	for _, request := range f.requests {
		if request.ResponderID != nil && *request.ResponderID == responderID {
			copy := *request
			matches = append(matches, &copy)
		}
	}
	return matches, int64(len(matches)), nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[primitive.ObjectID]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[primitive.ObjectID]*models.User)}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, ok := f.users[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	copy := *user
	return &copy, nil
}

func (f *fakeUserRepo) Update(ctx context.Context, id primitive.ObjectID, updates map[string]interface{}) error {
	return nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, user := range f.users {
		if user.Email == email {
			copy := *user
			return &copy, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (f *fakeUserRepo) GetByRole(ctx context.Context, role models.UserRole, params *utils.PaginationParams) ([]*models.User, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []*models.User
	for _, user := range f.users {
		if user.Role == role {
			copy := *user
			matches = append(matches, &copy)
		}
	}
	return matches, int64(len(matches)), nil
}

func (f *fakeUserRepo) UpdateLastActive(ctx context.Context, id primitive.ObjectID) error {
	return nil
}

type publishedEvent struct {
	target string
	event  string
	data   map[string]interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) PublishRequestUpdate(requestID primitive.ObjectID, event string, data map[string]interface{}) {
	f.record("request_"+requestID.Hex(), event, data)
}

func (f *fakePublisher) PublishUserEvent(userID primitive.ObjectID, event string, data map[string]interface{}) {
	f.record("user_"+userID.Hex(), event, data)
}

func (f *fakePublisher) BroadcastToResponders(event string, data map[string]interface{}) {
	f.record("responders", event, data)
}

func (f *fakePublisher) record(target, event string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{target: target, event: event, data: data})
}

func (f *fakePublisher) eventsOfType(event string) []publishedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var matches []publishedEvent
	for _, e := range f.events {
		if e.event == event {
			matches = append(matches, e)
		}
	}
	return matches
}

type fixture struct {
	service     EMSService
	requestRepo *fakeRequestRepo
	userRepo    *fakeUserRepo
	publisher   *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	quiet, err := logger.NewLogger(&logger.Config{Level: logger.FatalLevel, Format: "text", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	requestRepo := newFakeRequestRepo()
	userRepo := newFakeUserRepo()
	publisher := &fakePublisher{}

	return &fixture{
		service:     NewEMSService(requestRepo, userRepo, publisher, quiet),
		requestRepo: requestRepo,
		userRepo:    userRepo,
		publisher:   publisher,
	}
}

func (fx *fixture) seedUser(t *testing.T, role models.UserRole) primitive.ObjectID {
	t.Helper()

	user := &models.User{
		FirstName: "Test",
		LastName:  string(role),
		Email:     primitive.NewObjectID().Hex() + "@example.com",
		Phone:     "+15550000000",
		Role:      role,
		Status:    models.UserStatusActive,
	}
	if err := fx.userRepo.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user.ID
}

func (fx *fixture) seedRequest(t *testing.T, requesterID primitive.ObjectID, priority models.EMSPriority) *models.EMSRequest {
	t.Helper()

	request, err := fx.service.CreateRequest(context.Background(), requesterID, &models.CreateEMSRequest{
		Latitude:      40.7128,
		Longitude:     -74.006,
		EmergencyType: models.EmergencyTypeAccident,
		Priority:      priority,
	})
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return request
}

func TestCreateRequestStartsPending(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)

	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	if request.Status != models.EMSStatusPending {
		t.Errorf("status = %s, want pending", request.Status)
	}
	if request.ResponderID != nil {
		t.Errorf("new request should have no responder")
	}
	if request.PriorityLevel != models.EMSPriorityHigh.Level() {
		t.Errorf("priority level = %d, want %d", request.PriorityLevel, models.EMSPriorityHigh.Level())
	}
	if request.DispatchTime != nil || request.ArrivalTime != nil || request.CompletionTime != nil {
		t.Errorf("new request should carry no transition timestamps")
	}
}

func TestCreateRequestBlockedWhileActive(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)

	fx.seedRequest(t, requesterID, models.EMSPriorityMedium)

	_, err := fx.service.CreateRequest(context.Background(), requesterID, &models.CreateEMSRequest{
		Latitude:      40.7,
		Longitude:     -74.0,
		EmergencyType: models.EmergencyTypeTrauma,
		Priority:      models.EMSPriorityLow,
	})
	if !errors.Is(err, ErrActorBusy) {
		t.Fatalf("err = %v, want ErrActorBusy", err)
	}
}

func TestCreateRequestAllowedAfterTerminal(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)

	first := fx.seedRequest(t, requesterID, models.EMSPriorityMedium)
	if _, err := fx.service.CancelRequest(context.Background(), first.ID, requesterID, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := fx.service.CreateRequest(context.Background(), requesterID, &models.CreateEMSRequest{
		Latitude:      40.7,
		Longitude:     -74.0,
		EmergencyType: models.EmergencyTypeCardiac,
		Priority:      models.EMSPriorityCritical,
	}); err != nil {
		t.Fatalf("create after cancel: %v", err)
	}
}

func TestCreateRequestBroadcastsCritical(t *testing.T) {
	fx := newFixture(t)

	fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityCritical)
	fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityLow)

	created := fx.publisher.eventsOfType(utils.EventRequestCreated)
	if len(created) != 1 {
		t.Fatalf("request_created events = %d, want 1 (critical only)", len(created))
	}
	if created[0].target != "responders" {
		t.Errorf("broadcast target = %s, want responders", created[0].target)
	}
}

func TestClaimAssignsResponderAndStampsDispatchTime(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	position := models.NewGeoPoint(40.72, -74.01)
	updated, err := fx.service.ClaimRequest(context.Background(), request.ID, responderID, responderID, &position)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if updated.Status != models.EMSStatusEnroute {
		t.Errorf("status = %s, want enroute", updated.Status)
	}
	if updated.ResponderID == nil || *updated.ResponderID != responderID {
		t.Errorf("responder not bound")
	}
	if updated.DispatchTime == nil {
		t.Errorf("dispatch time not stamped")
	}
	if updated.ResponderPosition == nil {
		t.Errorf("responder position not recorded")
	}

	claimed := fx.publisher.eventsOfType(utils.EventRequestClaimed)
	if len(claimed) != 2 {
		t.Fatalf("request_claimed events = %d, want 2 (request room and requester)", len(claimed))
	}
}

func TestClaimSecondResponderRejected(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	first := fx.seedUser(t, models.UserRoleResponder)
	second := fx.seedUser(t, models.UserRoleResponder)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	if _, err := fx.service.ClaimRequest(context.Background(), request.ID, first, first, nil); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err := fx.service.ClaimRequest(context.Background(), request.ID, second, second, nil)
	if !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("err = %v, want ErrAlreadyAssigned", err)
	}
}

func TestClaimConcurrentExactlyOneWinner(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityCritical)

	const contenders = 8
	responderIDs := make([]primitive.ObjectID, contenders)
	for i := range responderIDs {
		responderIDs[i] = fx.seedUser(t, models.UserRoleResponder)
	}

	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = fx.service.ClaimRequest(context.Background(), request.ID, responderIDs[i], responderIDs[i], nil)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrAlreadyAssigned):
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestClaimConcurrentSameResponderTwoRequests(t *testing.T) {
	fx := newFixture(t)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	first := fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityHigh)
	second := fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityHigh)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, id := range []primitive.ObjectID{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id primitive.ObjectID) {
			defer wg.Done()
			_, results[i] = fx.service.ClaimRequest(context.Background(), id, responderID, responderID, nil)
		}(i, id)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrActorBusy):
		default:
			t.Errorf("unexpected claim error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestClaimResponderAlreadyBusy(t *testing.T) {
	fx := newFixture(t)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	first := fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityHigh)
	second := fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityHigh)

	if _, err := fx.service.ClaimRequest(context.Background(), first.ID, responderID, responderID, nil); err != nil {
		t.Fatalf("first claim: %v", err)
	}

	_, err := fx.service.ClaimRequest(context.Background(), second.ID, responderID, responderID, nil)
	if !errors.Is(err, ErrActorBusy) {
		t.Fatalf("err = %v, want ErrActorBusy", err)
	}
}

func TestClaimAuthorization(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	otherResponderID := fx.seedUser(t, models.UserRoleResponder)
	operatorID := fx.seedUser(t, models.UserRoleOperator)

	// A responder may not claim on another responder's behalf.
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)
	_, err := fx.service.ClaimRequest(context.Background(), request.ID, responderID, otherResponderID, nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("responder claiming for another: err = %v, want ErrForbidden", err)
	}

	// A requester may not claim at all.
	_, err = fx.service.ClaimRequest(context.Background(), request.ID, requesterID, requesterID, nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("requester claiming: err = %v, want ErrForbidden", err)
	}

	// An operator may dispatch any responder.
	if _, err := fx.service.ClaimRequest(context.Background(), request.ID, responderID, operatorID, nil); err != nil {
		t.Fatalf("operator claim: %v", err)
	}
}

func TestTransitionFullLifecycle(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	claimed, err := fx.service.ClaimRequest(context.Background(), request.ID, responderID, responderID, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	dispatchTime := claimed.DispatchTime

	arrived, err := fx.service.TransitionStatus(context.Background(), request.ID, responderID, models.EMSStatusArrived, nil)
	if err != nil {
		t.Fatalf("arrive: %v", err)
	}
	if arrived.ArrivalTime == nil {
		t.Fatalf("arrival time not stamped")
	}

	completed, err := fx.service.TransitionStatus(context.Background(), request.ID, responderID, models.EMSStatusCompleted, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.CompletionTime == nil {
		t.Fatalf("completion time not stamped")
	}
	if completed.DispatchTime == nil || !completed.DispatchTime.Equal(*dispatchTime) {
		t.Errorf("dispatch time changed after later transitions")
	}
	if !completed.Status.IsTerminal() {
		t.Errorf("completed should be terminal")
	}
}

func TestTransitionIllegalSkip(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	operatorID := fx.seedUser(t, models.UserRoleOperator)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	_, err := fx.service.TransitionStatus(context.Background(), request.ID, operatorID, models.EMSStatusArrived, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("err should carry transition detail")
	}
	if transitionErr.From != models.EMSStatusPending || transitionErr.To != models.EMSStatusArrived {
		t.Errorf("detail = %s -> %s, want pending -> arrived", transitionErr.From, transitionErr.To)
	}
}

func TestTransitionOutOfTerminal(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	operatorID := fx.seedUser(t, models.UserRoleOperator)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	if _, err := fx.service.CancelRequest(context.Background(), request.ID, requesterID, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := fx.service.TransitionStatus(context.Background(), request.ID, operatorID, models.EMSStatusEnroute, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestTransitionAuthorization(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	strangerID := fx.seedUser(t, models.UserRoleRequester)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	otherResponderID := fx.seedUser(t, models.UserRoleResponder)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	if _, err := fx.service.ClaimRequest(context.Background(), request.ID, responderID, responderID, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// A requester may only cancel, and only their own request.
	if _, err := fx.service.TransitionStatus(context.Background(), request.ID, requesterID, models.EMSStatusArrived, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("requester advancing: err = %v, want ErrForbidden", err)
	}
	if _, err := fx.service.CancelRequest(context.Background(), request.ID, strangerID, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger cancelling: err = %v, want ErrForbidden", err)
	}

	// Only the assigned responder may advance the request.
	if _, err := fx.service.TransitionStatus(context.Background(), request.ID, otherResponderID, models.EMSStatusArrived, nil); !errors.Is(err, ErrForbidden) {
		t.Errorf("unassigned responder advancing: err = %v, want ErrForbidden", err)
	}
	if _, err := fx.service.TransitionStatus(context.Background(), request.ID, responderID, models.EMSStatusArrived, nil); err != nil {
		t.Errorf("assigned responder advancing: %v", err)
	}
}

func TestTransitionNotFound(t *testing.T) {
	fx := newFixture(t)
	operatorID := fx.seedUser(t, models.UserRoleOperator)

	_, err := fx.service.TransitionStatus(context.Background(), primitive.NewObjectID(), operatorID, models.EMSStatusCancelled, nil)
	if !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("err = %v, want ErrRequestNotFound", err)
	}
}

func TestCancelRecordsNotes(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	notes := "called in error"
	cancelled, err := fx.service.CancelRequest(context.Background(), request.ID, requesterID, &notes)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != models.EMSStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.Notes != notes {
		t.Errorf("notes = %q, want %q", cancelled.Notes, notes)
	}
	if cancelled.CompletionTime == nil {
		t.Errorf("terminal transition should stamp completion time")
	}
}

func TestUpdatePositionResponderPersists(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	if _, err := fx.service.ClaimRequest(context.Background(), request.ID, responderID, responderID, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	position := models.NewGeoPoint(40.75, -73.99)
	updated, err := fx.service.UpdatePosition(context.Background(), request.ID, responderID, position)
	if err != nil {
		t.Fatalf("update position: %v", err)
	}
	if updated.ResponderPosition == nil || updated.ResponderPosition.Latitude() != 40.75 {
		t.Errorf("responder position not persisted")
	}

	stored, _ := fx.requestRepo.GetByID(context.Background(), request.ID)
	if stored.ResponderPosition == nil {
		t.Errorf("responder position not stored")
	}

	if len(fx.publisher.eventsOfType(utils.EventPositionUpdate)) != 1 {
		t.Errorf("position update not published")
	}
}

func TestUpdatePositionRequesterBroadcastOnly(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)
	origin := request.RequesterPosition

	position := models.NewGeoPoint(41.0, -75.0)
	if _, err := fx.service.UpdatePosition(context.Background(), request.ID, requesterID, position); err != nil {
		t.Fatalf("update position: %v", err)
	}

	// The requester position is fixed at creation; the live update only
	// reaches the interest group.
	stored, _ := fx.requestRepo.GetByID(context.Background(), request.ID)
	if stored.RequesterPosition.Latitude() != origin.Latitude() {
		t.Errorf("requester position should not change after creation")
	}
	if len(fx.publisher.eventsOfType(utils.EventPositionUpdate)) != 1 {
		t.Errorf("position update not published")
	}
}

func TestUpdatePositionForbiddenForOutsider(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	outsiderID := fx.seedUser(t, models.UserRoleResponder)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	_, err := fx.service.UpdatePosition(context.Background(), request.ID, outsiderID, models.NewGeoPoint(41.0, -75.0))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestGetActiveRequestsOrdering(t *testing.T) {
	fx := newFixture(t)

	low := fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityLow)
	criticalFirst := fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityCritical)
	criticalSecond := fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityCritical)
	medium := fx.seedRequest(t, fx.seedUser(t, models.UserRoleRequester), models.EMSPriorityMedium)

	// Completed requests leave the queue.
	doneRequesterID := fx.seedUser(t, models.UserRoleRequester)
	done := fx.seedRequest(t, doneRequesterID, models.EMSPriorityHigh)
	if _, err := fx.service.CancelRequest(context.Background(), done.ID, doneRequesterID, nil); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	queue, err := fx.service.GetActiveRequests(context.Background())
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	want := []primitive.ObjectID{criticalFirst.ID, criticalSecond.ID, medium.ID, low.ID}
	if len(queue) != len(want) {
		t.Fatalf("queue length = %d, want %d", len(queue), len(want))
	}
	for i, id := range want {
		if queue[i].ID != id {
			t.Errorf("queue[%d] = %s, want %s", i, queue[i].ID.Hex(), id.Hex())
		}
	}
}

func TestGetHistoryByRole(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	if _, err := fx.service.ClaimRequest(context.Background(), request.ID, responderID, responderID, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	params := &utils.PaginationParams{Page: 1, PageSize: 20, Sort: "created_at", Order: "desc"}

	requesterHistory, total, err := fx.service.GetHistory(context.Background(), requesterID, params)
	if err != nil || total != 1 || len(requesterHistory) != 1 {
		t.Fatalf("requester history = %d (total %d, err %v), want 1", len(requesterHistory), total, err)
	}

	responderHistory, total, err := fx.service.GetHistory(context.Background(), responderID, params)
	if err != nil || total != 1 || len(responderHistory) != 1 {
		t.Fatalf("responder history = %d (total %d, err %v), want 1", len(responderHistory), total, err)
	}
}

func TestActiveRequestFor(t *testing.T) {
	fx := newFixture(t)
	requesterID := fx.seedUser(t, models.UserRoleRequester)
	responderID := fx.seedUser(t, models.UserRoleResponder)
	request := fx.seedRequest(t, requesterID, models.EMSPriorityHigh)

	active, err := fx.service.ActiveRequestFor(context.Background(), requesterID)
	if err != nil || active == nil || active.ID != request.ID {
		t.Fatalf("requester active = %v (err %v), want request", active, err)
	}

	active, err = fx.service.ActiveRequestFor(context.Background(), responderID)
	if err != nil || active != nil {
		t.Fatalf("idle responder active = %v (err %v), want nil", active, err)
	}
}
