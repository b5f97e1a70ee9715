package faceauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/observability"
)

// User-facing messages. Rejections share one message so callers learn
// nothing about why a particular face failed.
const (
	msgEmptyStore    = "no team members registered"
	msgNotRecognized = "face not recognized"
	msgNoFace        = "no face detected in photo"
	msgUnknown       = "team member not found"
	msgDuplicate     = "team member already registered"
	msgCapture       = "could not capture image from camera"
	msgStorage       = "could not save changes, please try again"
	msgDetector      = "could not analyse photo"
)

// Options configure a Manager. Store, Engine and Policy are required.
type Options struct {
	Store     *Store
	Engine    FaceEngine
	Cache     EmbeddingCache
	Policy    Policy
	Publisher Publisher
	Now       func() time.Time
}

// Manager is the face authentication entry point. Every operation returns
// a structured result; errors never escape it.
type Manager struct {
	store     *Store
	engine    FaceEngine
	matcher   *Matcher
	policy    Policy
	publisher Publisher
	locks     *keyedMutex
	now       func() time.Time
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("faceauth: store is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("faceauth: engine is required")
	}
	if opts.Policy.AcceptThreshold <= 0 || opts.Policy.ConfidenceDivisor <= 0 {
		return nil, errors.New("faceauth: policy is not configured")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	observability.EnrolledMembers.Set(float64(opts.Store.Len()))
	return &Manager{
		store:     opts.Store,
		engine:    opts.Engine,
		matcher:   NewMatcher(opts.Store, opts.Engine, opts.Cache),
		policy:    opts.Policy,
		publisher: opts.Publisher,
		locks:     newKeyedMutex(),
		now:       opts.Now,
	}, nil
}

// RegisterRequest enrolls a member with one photo. Update allows replacing
// an existing member's name, role and reference photos.
type RegisterRequest struct {
	MemberID string
	FullName string
	Role     string
	Image    Image
	Update   bool
}

func (m *Manager) Register(ctx context.Context, req RegisterRequest) (res Result) {
	defer m.recoverInto("register", &res)
	res = m.register(ctx, req)
	m.record("register", res)
	return res
}

func (m *Manager) register(ctx context.Context, req RegisterRequest) Result {
	if err := ValidateMemberID(req.MemberID); err != nil {
		return failed(err, err.Error())
	}
	if req.FullName == "" {
		err := fmt.Errorf("%w: full name is required", ErrInvalidInput)
		return failed(err, err.Error())
	}
	if len(req.Image.Data) == 0 {
		err := fmt.Errorf("%w: photo is empty", ErrInvalidInput)
		return failed(err, err.Error())
	}

	unlock := m.locks.Lock(req.MemberID)
	defer unlock()

	_, exists := m.store.Get(req.MemberID)
	if exists && !req.Update {
		return failed(fmt.Errorf("%w: %s", ErrDuplicateMember, req.MemberID), msgDuplicate)
	}

	face, res := m.embedOne(req.Image)
	if !res.Success {
		return res
	}

	member, err := m.store.Put(ctx, req.MemberID, models.MemberInfo{FullName: req.FullName, Role: req.Role}, req.Image, req.Update)
	if err != nil {
		slog.Error("register member", "member", req.MemberID, "error", err)
		return failed(err, messageFor(err))
	}

	if exists {
		m.matcher.forget(ctx, member.ID)
	}
	m.matcher.remember(ctx, models.RefKey{MemberID: member.ID, Image: member.Images[0]}, face.Embedding)
	observability.EnrolledMembers.Set(float64(m.store.Len()))

	typ := models.EventMemberRegistered
	verb := "registered"
	if exists {
		typ = models.EventMemberUpdated
		verb = "updated"
	}
	m.publish(ctx, m.memberEvent(typ, member))

	slog.Info("team member "+verb, "member", member.ID, "role", member.Role)
	return ok(fmt.Sprintf("team member %s %s", member.ID, verb))
}

// RegisterTeamMember enrolls a member from a photo on disk.
func (m *Manager) RegisterTeamMember(ctx context.Context, username, fullName, role, photoPath string) Result {
	img, err := ImageFromFile(photoPath)
	if err != nil {
		res := failed(fmt.Errorf("%w: %v", ErrInvalidInput, err), "could not read photo")
		m.record("register", res)
		return res
	}
	return m.Register(ctx, RegisterRequest{MemberID: username, FullName: fullName, Role: role, Image: img})
}

// AddPhoto appends a reference photo to an enrolled member.
func (m *Manager) AddPhoto(ctx context.Context, memberID string, img Image) (res Result) {
	defer m.recoverInto("add_photo", &res)
	res = m.addPhoto(ctx, memberID, img)
	m.record("add_photo", res)
	return res
}

func (m *Manager) addPhoto(ctx context.Context, memberID string, img Image) Result {
	if err := ValidateMemberID(memberID); err != nil {
		return failed(err, err.Error())
	}
	if len(img.Data) == 0 {
		err := fmt.Errorf("%w: photo is empty", ErrInvalidInput)
		return failed(err, err.Error())
	}

	unlock := m.locks.Lock(memberID)
	defer unlock()

	if _, exists := m.store.Get(memberID); !exists {
		return failed(fmt.Errorf("%w: %s", ErrUnknownMember, memberID), msgUnknown)
	}

	face, res := m.embedOne(img)
	if !res.Success {
		return res
	}

	member, err := m.store.AppendImage(ctx, memberID, img)
	if err != nil {
		slog.Error("add photo", "member", memberID, "error", err)
		return failed(err, messageFor(err))
	}
	added := member.Images[len(member.Images)-1]
	m.matcher.remember(ctx, models.RefKey{MemberID: memberID, Image: added}, face.Embedding)
	m.publish(ctx, m.memberEvent(models.EventPhotoAdded, member))

	slog.Info("reference photo added", "member", memberID, "image", added, "photo_count", member.PhotoCount)
	return ok(fmt.Sprintf("photo added for %s (%d photos)", memberID, member.PhotoCount))
}

// AddPhotoFromFile appends a reference photo read from disk.
func (m *Manager) AddPhotoFromFile(ctx context.Context, memberID, photoPath string) Result {
	img, err := ImageFromFile(photoPath)
	if err != nil {
		res := failed(fmt.Errorf("%w: %v", ErrInvalidInput, err), "could not read photo")
		m.record("add_photo", res)
		return res
	}
	return m.AddPhoto(ctx, memberID, img)
}

// embedOne runs detection on an enrollment photo and returns its most
// confident face.
func (m *Manager) embedOne(img Image) (models.Face, Result) {
	start := time.Now()
	faces, err := m.engine.DetectAndEmbed(img.Data)
	observability.InferenceDuration.WithLabelValues("detect_embed").Observe(time.Since(start).Seconds())
	if err != nil {
		err = engineError(err)
		slog.Warn("enrollment photo analysis failed", "error", err)
		return models.Face{}, failed(err, messageFor(err))
	}
	face, found := bestFace(faces)
	if !found || len(face.Embedding) == 0 {
		return models.Face{}, failed(ErrNoFaceDetected, msgNoFace)
	}
	return face, ok("")
}

// Recognize identifies the face in a query image.
func (m *Manager) Recognize(ctx context.Context, img Image) (rec Recognition) {
	defer m.recoverInto("recognize", &rec.Result)
	rec = m.recognize(ctx, img)
	m.record("recognize", rec.Result)
	decision := "reject"
	if rec.Success {
		decision = "accept"
	}
	observability.Recognitions.WithLabelValues(decision).Inc()
	if rec.Diagnostics != nil {
		slog.Debug("recognition outcome", "success", rec.Success, "diagnostics", rec.Diagnostics.String())
	}
	return rec
}

func (m *Manager) recognize(ctx context.Context, img Image) Recognition {
	if m.store.Len() == 0 {
		return Recognition{Result: failed(ErrEmptyStore, msgEmptyStore)}
	}
	if len(img.Data) == 0 {
		err := fmt.Errorf("%w: image is empty", ErrInvalidInput)
		return Recognition{Result: failed(err, err.Error())}
	}

	start := time.Now()
	faces, err := m.engine.DetectAndEmbed(img.Data)
	observability.InferenceDuration.WithLabelValues("detect_embed").Observe(time.Since(start).Seconds())
	if err != nil {
		err = engineError(err)
		return Recognition{
			Result:      failed(err, messageFor(err)),
			Diagnostics: &Diagnostics{Error: err.Error()},
		}
	}

	diag := &Diagnostics{FacesInQuery: len(faces)}
	query, found := bestFace(faces)
	if !found || len(query.Embedding) == 0 {
		diag.Reason = ReasonNoFace
		return rejected(ErrNoFaceDetected, diag)
	}

	match, err := m.matcher.FindBestMatch(ctx, query.Embedding)
	if err != nil {
		diag.Error = err.Error()
		return Recognition{Result: failed(err, messageFor(err)), Diagnostics: diag}
	}
	if match == nil {
		diag.Reason = ReasonNoMatch
		return rejected(ErrLowConfidenceMatch, diag)
	}
	diag.Distance = match.Distance
	diag.NearestID = match.MemberID
	if !m.policy.Accept(match) {
		diag.Reason = ReasonLowConfidence
		return rejected(ErrLowConfidenceMatch, diag)
	}

	member, exists := m.store.Get(match.MemberID)
	if !exists {
		diag.Reason = ReasonNoMatch
		return rejected(ErrLowConfidenceMatch, diag)
	}

	confidence := m.policy.Confidence(match.Distance)
	ev := m.memberEvent(models.EventMemberRecognized, member)
	ev.Confidence = confidence
	m.publish(ctx, ev)

	return Recognition{
		Result:      ok("welcome, " + member.FullName),
		MemberID:    member.ID,
		FullName:    member.FullName,
		Role:        member.Role,
		Confidence:  confidence,
		Diagnostics: diag,
	}
}

// rejected is the caller-visible outcome of any non-identification: the
// code and message are the same whatever the reason.
func rejected(err error, diag *Diagnostics) Recognition {
	return Recognition{
		Result:      Result{Success: false, Message: msgNotRecognized, Code: CodeNotRecognized, Err: err},
		Diagnostics: diag,
	}
}

// RecognizeFromCamera grabs one frame from source and recognizes it.
func (m *Manager) RecognizeFromCamera(ctx context.Context, source CaptureSource) (rec Recognition) {
	defer m.recoverInto("recognize", &rec.Result)
	if m.store.Len() == 0 {
		rec = Recognition{Result: failed(ErrEmptyStore, msgEmptyStore)}
		m.record("recognize", rec.Result)
		return rec
	}
	data, err := source.Capture(ctx)
	if err != nil || len(data) == 0 {
		if err == nil {
			err = errors.New("empty frame")
		}
		err = fmt.Errorf("%w: %v", ErrCaptureFailure, err)
		slog.Warn("camera capture failed", "error", err)
		rec = Recognition{Result: failed(err, msgCapture), Diagnostics: &Diagnostics{Error: err.Error()}}
		m.record("recognize", rec.Result)
		return rec
	}
	return m.Recognize(ctx, NewImage(data))
}

// ListMembers returns every valid member in registration order.
func (m *Manager) ListMembers() []models.MemberSummary {
	members := m.store.List()
	out := make([]models.MemberSummary, 0, len(members))
	for _, member := range members {
		out = append(out, models.MemberSummary{
			Username:     member.ID,
			FullName:     member.FullName,
			Role:         member.Role,
			RegisteredAt: member.RegisteredAt,
			PhotoCount:   member.PhotoCount,
		})
	}
	return out
}

// Remove deletes a member and every reference photo. Removing an unknown
// member succeeds.
func (m *Manager) Remove(ctx context.Context, memberID string) (res Result) {
	defer m.recoverInto("remove", &res)
	res = m.remove(ctx, memberID)
	m.record("remove", res)
	return res
}

func (m *Manager) remove(ctx context.Context, memberID string) Result {
	if err := ValidateMemberID(memberID); err != nil {
		return failed(err, err.Error())
	}

	unlock := m.locks.Lock(memberID)
	defer unlock()

	existed, err := m.store.Delete(ctx, memberID)
	m.matcher.forget(ctx, memberID)
	if err != nil {
		slog.Error("remove member", "member", memberID, "error", err)
		return failed(err, messageFor(err))
	}
	observability.EnrolledMembers.Set(float64(m.store.Len()))

	if !existed {
		return ok(fmt.Sprintf("team member %s is not registered", memberID))
	}
	m.publish(ctx, models.NewEvent(models.EventMemberRemoved, memberID, m.now().UTC()))
	slog.Info("team member removed", "member", memberID)
	return ok(fmt.Sprintf("team member %s removed", memberID))
}

// CheckPhoto reports how many faces a candidate enrollment photo contains.
// Nothing is stored.
func (m *Manager) CheckPhoto(_ context.Context, img Image) (res CheckResult) {
	defer m.recoverInto("check", &res.Result)
	if len(img.Data) == 0 {
		err := fmt.Errorf("%w: photo is empty", ErrInvalidInput)
		return CheckResult{Result: failed(err, err.Error())}
	}

	start := time.Now()
	regions, err := m.engine.DetectFaces(img.Data)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		err = engineError(err)
		res = CheckResult{Result: failed(err, messageFor(err))}
		m.record("check", res.Result)
		return res
	}
	if len(regions) == 0 {
		res = CheckResult{Result: failed(ErrNoFaceDetected, msgNoFace)}
		m.record("check", res.Result)
		return res
	}

	res = CheckResult{
		Result:  ok(fmt.Sprintf("%d face(s) detected", len(regions))),
		Faces:   len(regions),
		Regions: regions,
	}
	m.record("check", res.Result)
	return res
}

// Quarantined lists member ids whose stored metadata failed validation.
func (m *Manager) Quarantined() []string {
	return m.store.Quarantined()
}

func (m *Manager) memberEvent(typ models.EventType, member models.Member) models.Event {
	ev := models.NewEvent(typ, member.ID, m.now().UTC())
	ev.FullName = member.FullName
	ev.Role = member.Role
	ev.PhotoCount = member.PhotoCount
	return ev
}

func (m *Manager) publish(ctx context.Context, ev models.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, ev); err != nil {
		observability.EventsPublished.WithLabelValues(string(ev.Type), "error").Inc()
		slog.Warn("publish member event", "type", ev.Type, "member", ev.MemberID, "error", err)
		return
	}
	observability.EventsPublished.WithLabelValues(string(ev.Type), "ok").Inc()
}

// recoverInto turns a panic in an exported operation into a failed result.
// It must be deferred directly by the operation.
func (m *Manager) recoverInto(op string, res *Result) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("%w: panic: %v", ErrDetectorFailure, r)
	slog.Error("operation panicked", "op", op, "panic", r, "stack", string(debug.Stack()))
	*res = failed(err, msgDetector)
	m.record(op, *res)
}

func (m *Manager) record(op string, res Result) {
	code := string(res.Code)
	if res.Success {
		code = "ok"
	}
	observability.Operations.WithLabelValues(op, code).Inc()
}

// engineError classifies a FaceEngine failure. Engines mark undecodable
// input with ErrInvalidInput; everything else is a detector fault.
func engineError(err error) error {
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrDetectorFailure) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrDetectorFailure, err)
}

func messageFor(err error) string {
	switch codeOf(err) {
	case CodeNoFaceDetected:
		return msgNoFace
	case CodeUnknownMember:
		return msgUnknown
	case CodeDuplicateMember:
		return msgDuplicate
	case CodeEmptyStore:
		return msgEmptyStore
	case CodeCaptureFailure:
		return msgCapture
	case CodeNotRecognized:
		return msgNotRecognized
	case CodeInvalidInput:
		return "invalid photo or request"
	case CodeDetectorFailure:
		return msgDetector
	default:
		return msgStorage
	}
}

// Publishers fans one event out to several publishers. Every publisher is
// tried; the first error is returned.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, ev models.Event) error {
	var first error
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
