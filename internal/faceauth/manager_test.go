package faceauth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/your-org/facegate/internal/faceauth/faceauthtest"
	"github.com/your-org/facegate/internal/models"
	"github.com/your-org/facegate/internal/storage"
)

type testEnv struct {
	mgr    *Manager
	store  *Store
	engine *faceauthtest.Engine
	pub    *faceauthtest.Publisher
	cache  *storage.MemoryCache
	path   string
}

func newTestManager(t *testing.T) *testEnv {
	t.Helper()
	s, _, path := newTestStore(t)
	env := &testEnv{
		path:   path,
		store:  s,
		engine: faceauthtest.NewEngine(),
		pub:    &faceauthtest.Publisher{},
		cache:  storage.NewMemoryCache(),
	}
	policy, err := NewPolicy(0.6, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	env.mgr, err = NewManager(Options{
		Store:     s,
		Engine:    env.engine,
		Cache:     env.cache,
		Policy:    policy,
		Publisher: env.pub,
		Now:       clock(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *testEnv) register(t *testing.T, id, photo string, emb ...float32) {
	t.Helper()
	e.engine.AddFace([]byte(photo), emb...)
	res := e.mgr.Register(context.Background(), RegisterRequest{
		MemberID: id, FullName: "Full " + id, Role: "nurse", Image: jpeg(photo),
	})
	if !res.Success {
		t.Fatalf("register %s: %+v", id, res)
	}
}

func TestManager_ScenarioA_EmptyStore(t *testing.T) {
	env := newTestManager(t)
	rec := env.mgr.Recognize(context.Background(), jpeg("anyone"))

	if rec.Success {
		t.Fatal("recognized a face against an empty store")
	}
	if rec.Message != "no team members registered" || rec.Code != CodeEmptyStore {
		t.Errorf("result = %+v", rec.Result)
	}
	if env.engine.EmbedCalls() != 0 {
		t.Error("engine ran for an empty store")
	}
}

func TestManager_ScenarioB_RegisterAndList(t *testing.T) {
	env := newTestManager(t)
	env.register(t, "alice", "alice-photo", 0, 0, 0)

	members := env.mgr.ListMembers()
	if len(members) != 1 {
		t.Fatalf("ListMembers returned %d entries, want 1", len(members))
	}
	if members[0].Username != "alice" || members[0].PhotoCount != 1 || members[0].FullName != "Full alice" {
		t.Errorf("member = %+v", members[0])
	}
	if got := env.pub.Types(); !reflect.DeepEqual(got, []models.EventType{models.EventMemberRegistered}) {
		t.Errorf("events = %v", got)
	}
}

func TestManager_ScenarioC_UnknownPersonRejected(t *testing.T) {
	env := newTestManager(t)
	env.register(t, "alice", "alice-photo", 0, 0, 0)
	env.engine.AddFace([]byte("stranger"), 0.9, 0, 0)

	rec := env.mgr.Recognize(context.Background(), jpeg("stranger"))
	if rec.Success {
		t.Fatalf("stranger recognized as %q", rec.MemberID)
	}
	if rec.Message != "face not recognized" || rec.Code != CodeNotRecognized {
		t.Errorf("result = %+v", rec.Result)
	}
	if rec.MemberID != "" || rec.Confidence != 0 {
		t.Errorf("rejected result leaks identity: %+v", rec)
	}
	if rec.Diagnostics == nil || rec.Diagnostics.Reason != ReasonLowConfidence || rec.Diagnostics.NearestID != "alice" {
		t.Errorf("diagnostics = %v", rec.Diagnostics)
	}
	if !errors.Is(rec.Err, ErrLowConfidenceMatch) {
		t.Errorf("Err = %v, want ErrLowConfidenceMatch", rec.Err)
	}
	for _, typ := range env.pub.Types() {
		if typ == models.EventMemberRecognized {
			t.Error("rejected recognition published an event")
		}
	}
}

func TestManager_ScenarioD_SamePhotoAccepted(t *testing.T) {
	env := newTestManager(t)
	env.register(t, "alice", "alice-photo", 0.1, 0.2, 0.3)

	rec := env.mgr.Recognize(context.Background(), jpeg("alice-photo"))
	if !rec.Success {
		t.Fatalf("recognize = %+v", rec.Result)
	}
	if rec.MemberID != "alice" || rec.FullName != "Full alice" || rec.Role != "nurse" {
		t.Errorf("identity = %+v", rec)
	}
	if math.Abs(rec.Confidence-100) > 1e-6 {
		t.Errorf("confidence = %v, want ~100", rec.Confidence)
	}

	events := env.pub.Events()
	last := events[len(events)-1]
	if last.Type != models.EventMemberRecognized || last.MemberID != "alice" || last.Confidence != rec.Confidence {
		t.Errorf("last event = %+v", last)
	}
}

func TestManager_ThresholdBoundary(t *testing.T) {
	env := newTestManager(t)
	env.mgr.policy = Policy{AcceptThreshold: 0.5, ConfidenceDivisor: 1.5}
	env.register(t, "alice", "alice-photo", 0, 0)
	env.engine.AddFace([]byte("at-threshold"), 0.5, 0)
	env.engine.AddFace([]byte("inside"), 0.25, 0)

	if rec := env.mgr.Recognize(context.Background(), jpeg("at-threshold")); rec.Success {
		t.Errorf("distance equal to threshold accepted: %+v", rec)
	}
	rec := env.mgr.Recognize(context.Background(), jpeg("inside"))
	if !rec.Success {
		t.Fatalf("distance below threshold rejected: %+v", rec.Result)
	}
	if math.Abs(rec.Confidence-(1-0.25/1.5)*100) > 1e-6 {
		t.Errorf("confidence = %v", rec.Confidence)
	}
}

func TestManager_RegisterNoFaceWritesNothing(t *testing.T) {
	env := newTestManager(t)
	ctx := context.Background()

	res := env.mgr.Register(ctx, RegisterRequest{MemberID: "alice", FullName: "Alice", Image: jpeg("blank-wall")})
	if res.Success || res.Code != CodeNoFaceDetected {
		t.Fatalf("result = %+v, want no_face_detected", res)
	}
	if env.store.Len() != 0 || len(env.mgr.ListMembers()) != 0 {
		t.Error("member stored despite missing face")
	}
	if names, _ := env.store.StoredImages(ctx, "alice"); len(names) != 0 {
		t.Errorf("images written: %v", names)
	}
	if len(env.pub.Events()) != 0 {
		t.Error("event published for failed registration")
	}
}

func TestManager_RegisterValidation(t *testing.T) {
	env := newTestManager(t)
	env.engine.AddFace([]byte("p"), 0)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"bad id", RegisterRequest{MemberID: "../x", FullName: "X", Image: jpeg("p")}},
		{"no name", RegisterRequest{MemberID: "x", Image: jpeg("p")}},
		{"no image", RegisterRequest{MemberID: "x", FullName: "X"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.mgr.Register(context.Background(), tt.req)
			if res.Success || res.Code != CodeInvalidInput {
				t.Errorf("result = %+v, want invalid_input", res)
			}
		})
	}
}

func TestManager_RegisterDuplicateAndUpdate(t *testing.T) {
	env := newTestManager(t)
	ctx := context.Background()
	env.register(t, "alice", "alice-1", 0, 0)
	env.engine.AddFace([]byte("alice-2"), 3, 3)

	res := env.mgr.Register(ctx, RegisterRequest{MemberID: "alice", FullName: "Alice B", Role: "doctor", Image: jpeg("alice-2")})
	if res.Success || res.Code != CodeDuplicateMember {
		t.Fatalf("duplicate register = %+v", res)
	}

	res = env.mgr.Register(ctx, RegisterRequest{MemberID: "alice", FullName: "Alice B", Role: "doctor", Image: jpeg("alice-2"), Update: true})
	if !res.Success {
		t.Fatalf("update = %+v", res)
	}
	members := env.mgr.ListMembers()
	if len(members) != 1 || members[0].Role != "doctor" || members[0].PhotoCount != 1 {
		t.Errorf("members after update = %+v", members)
	}

	// The old reference is gone: the old face no longer matches.
	if rec := env.mgr.Recognize(ctx, jpeg("alice-1")); rec.Success {
		t.Errorf("replaced photo still recognized: %+v", rec)
	}
	if rec := env.mgr.Recognize(ctx, jpeg("alice-2")); !rec.Success {
		t.Errorf("new photo not recognized: %+v", rec.Result)
	}

	types := env.pub.Types()
	if types[1] != models.EventMemberUpdated {
		t.Errorf("events = %v, want member.updated second", types)
	}
}

func TestManager_FailedUpdateKeepsIdentity(t *testing.T) {
	env := newTestManager(t)
	ctx := context.Background()
	env.register(t, "alice", "alice-photo", 0, 0)
	env.engine.AddFace([]byte("mallory-photo"), 5, 5)
	blockMetadata(t, env.path)

	res := env.mgr.Register(ctx, RegisterRequest{
		MemberID: "alice", FullName: "Alice", Image: jpeg("mallory-photo"), Update: true,
	})
	if res.Success || res.Code != CodeStorageFailure {
		t.Fatalf("update with failing commit = %+v", res)
	}

	// Rebuild reference embeddings from the stored images.
	if err := env.cache.DeleteMember(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if rec := env.mgr.Recognize(ctx, jpeg("mallory-photo")); rec.Success {
		t.Errorf("rejected update made mallory recognizable as %q", rec.MemberID)
	}
	if rec := env.mgr.Recognize(ctx, jpeg("alice-photo")); !rec.Success || rec.MemberID != "alice" {
		t.Errorf("alice after failed update = %+v", rec.Result)
	}
	for _, typ := range env.pub.Types() {
		if typ == models.EventMemberUpdated {
			t.Errorf("member.updated published for a failed update")
		}
	}
}

func TestManager_AddPhoto(t *testing.T) {
	env := newTestManager(t)
	ctx := context.Background()

	if res := env.mgr.AddPhoto(ctx, "ghost", jpeg("x")); res.Success || res.Code != CodeUnknownMember {
		t.Errorf("AddPhoto unknown = %+v", res)
	}

	env.register(t, "bob", "bob-1", 0, 0)
	if res := env.mgr.AddPhoto(ctx, "bob", jpeg("faceless")); res.Success || res.Code != CodeNoFaceDetected {
		t.Errorf("AddPhoto without face = %+v", res)
	}

	for i := 2; i <= 3; i++ {
		photo := fmt.Sprintf("bob-%d", i)
		env.engine.AddFace([]byte(photo), float32(i), 0)
		if res := env.mgr.AddPhoto(ctx, "bob", jpeg(photo)); !res.Success {
			t.Fatalf("AddPhoto %s = %+v", photo, res)
		}
	}

	members := env.mgr.ListMembers()
	stored, err := env.store.StoredImages(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if members[0].PhotoCount != 3 || len(stored) != 3 {
		t.Errorf("photo_count = %d, stored = %v", members[0].PhotoCount, stored)
	}

	env.engine.AddFace([]byte("query"), 3.1, 0)
	rec := env.mgr.Recognize(ctx, jpeg("query"))
	if !rec.Success || rec.MemberID != "bob" {
		t.Errorf("query near added photo = %+v", rec)
	}
}

func TestManager_AddPhotoConcurrent(t *testing.T) {
	env := newTestManager(t)
	ctx := context.Background()
	env.register(t, "carol", "carol-0", 0, 0)

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		photo := fmt.Sprintf("carol-%d", i)
		env.engine.AddFace([]byte(photo), float32(i), 0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := env.mgr.AddPhoto(ctx, "carol", jpeg(photo)); !res.Success {
				t.Errorf("AddPhoto %s = %+v", photo, res)
			}
		}()
	}
	wg.Wait()

	m, _ := env.store.Get("carol")
	stored, _ := env.store.StoredImages(ctx, "carol")
	if m.PhotoCount != 9 || len(stored) != 9 {
		t.Errorf("photo_count = %d, stored %d images", m.PhotoCount, len(stored))
	}
}

func TestManager_RemoveTwice(t *testing.T) {
	env := newTestManager(t)
	ctx := context.Background()
	env.register(t, "dave", "dave-photo", 1, 1)

	for i := 0; i < 2; i++ {
		if res := env.mgr.Remove(ctx, "dave"); !res.Success {
			t.Fatalf("remove #%d = %+v", i+1, res)
		}
	}
	if len(env.mgr.ListMembers()) != 0 {
		t.Error("dave still listed")
	}
	if names, _ := env.store.StoredImages(ctx, "dave"); len(names) != 0 {
		t.Errorf("images left: %v", names)
	}
	if env.cache.Len() != 0 {
		t.Errorf("cache still holds %d embeddings", env.cache.Len())
	}

	removed := 0
	for _, typ := range env.pub.Types() {
		if typ == models.EventMemberRemoved {
			removed++
		}
	}
	if removed != 1 {
		t.Errorf("published %d removal events, want 1", removed)
	}

	rec := env.mgr.Recognize(ctx, jpeg("dave-photo"))
	if rec.Code != CodeEmptyStore {
		t.Errorf("recognize after removal = %+v", rec.Result)
	}
}

func TestManager_RecognizeQueryWithoutFace(t *testing.T) {
	env := newTestManager(t)
	env.register(t, "alice", "alice", 0, 0)

	rec := env.mgr.Recognize(context.Background(), jpeg("empty-frame"))
	if rec.Success || rec.Code != CodeNotRecognized || rec.Message != "face not recognized" {
		t.Errorf("result = %+v", rec.Result)
	}
	if rec.Diagnostics.Reason != ReasonNoFace {
		t.Errorf("reason = %q", rec.Diagnostics.Reason)
	}
}

func TestManager_RecognizeUsesMostConfidentFace(t *testing.T) {
	env := newTestManager(t)
	env.register(t, "alice", "alice", 0, 0)
	env.register(t, "bob", "bob", 4, 4)
	env.engine.SetFaces([]byte("group"),
		models.Face{Region: models.Region{Confidence: 0.6}, Embedding: []float32{0, 0}},
		models.Face{Region: models.Region{Confidence: 0.95}, Embedding: []float32{4, 4}},
	)

	rec := env.mgr.Recognize(context.Background(), jpeg("group"))
	if !rec.Success || rec.MemberID != "bob" {
		t.Errorf("recognize = %+v, want bob", rec)
	}
}

func TestManager_DetectorErrors(t *testing.T) {
	env := newTestManager(t)
	env.register(t, "alice", "alice", 0, 0)
	env.engine.Fail([]byte("broken"), errors.New("onnx session crashed"))
	env.engine.Fail([]byte("not-an-image"), fmt.Errorf("%w: decode image", ErrInvalidInput))

	rec := env.mgr.Recognize(context.Background(), jpeg("broken"))
	if rec.Success || rec.Code != CodeDetectorFailure {
		t.Errorf("recognize broken = %+v", rec.Result)
	}
	if rec.Message == "" || rec.Message == rec.Diagnostics.Error {
		t.Errorf("raw error leaked into message: %q", rec.Message)
	}

	res := env.mgr.Register(context.Background(), RegisterRequest{MemberID: "x", FullName: "X", Image: jpeg("not-an-image")})
	if res.Success || res.Code != CodeInvalidInput {
		t.Errorf("register undecodable = %+v", res)
	}
}

// panickingEngine crashes on the "boom" image and defers to the fake otherwise.
type panickingEngine struct {
	*faceauthtest.Engine
}

func (e panickingEngine) DetectFaces(image []byte) ([]models.Region, error) {
	if string(image) == "boom" {
		panic("detector crashed")
	}
	return e.Engine.DetectFaces(image)
}

func (e panickingEngine) DetectAndEmbed(image []byte) ([]models.Face, error) {
	if string(image) == "boom" {
		panic("embedder crashed")
	}
	return e.Engine.DetectAndEmbed(image)
}

func TestManager_PanicBecomesFailure(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)
	engine := faceauthtest.NewEngine()
	policy, err := NewPolicy(0.6, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	mgr, err := NewManager(Options{Store: s, Engine: panickingEngine{engine}, Policy: policy, Now: clock()})
	if err != nil {
		t.Fatal(err)
	}

	res := mgr.Register(ctx, RegisterRequest{MemberID: "alice", FullName: "Alice", Image: jpeg("boom")})
	if res.Success || res.Code != CodeDetectorFailure || res.Message != msgDetector {
		t.Errorf("register = %+v", res)
	}

	// The member lock must be free again after the crash.
	engine.AddFace([]byte("alice-photo"), 0, 0)
	if res := mgr.Register(ctx, RegisterRequest{MemberID: "alice", FullName: "Alice", Image: jpeg("alice-photo")}); !res.Success {
		t.Fatalf("register after crash = %+v", res)
	}

	if res := mgr.AddPhoto(ctx, "alice", jpeg("boom")); res.Success || res.Code != CodeDetectorFailure {
		t.Errorf("add photo = %+v", res)
	}
	rec := mgr.Recognize(ctx, jpeg("boom"))
	if rec.Success || rec.Code != CodeDetectorFailure || rec.MemberID != "" {
		t.Errorf("recognize = %+v", rec)
	}
	rec = mgr.RecognizeFromCamera(ctx, faceauthtest.Capture{Frame: []byte("boom")})
	if rec.Success || rec.Code != CodeDetectorFailure {
		t.Errorf("recognize from camera = %+v", rec.Result)
	}
	if chk := mgr.CheckPhoto(ctx, jpeg("boom")); chk.Success || chk.Code != CodeDetectorFailure {
		t.Errorf("check = %+v", chk.Result)
	}

	if m, ok := s.Get("alice"); !ok || m.PhotoCount != 1 {
		t.Errorf("alice after crashes = %+v, %v", m, ok)
	}
	if rec := mgr.Recognize(ctx, jpeg("alice-photo")); !rec.Success || rec.MemberID != "alice" {
		t.Errorf("recognize alice = %+v", rec.Result)
	}
}

func TestManager_RecognizeFromCamera(t *testing.T) {
	env := newTestManager(t)
	ctx := context.Background()
	env.register(t, "alice", "alice", 0, 0)

	rec := env.mgr.RecognizeFromCamera(ctx, faceauthtest.Capture{Err: errors.New("device busy")})
	if rec.Success || rec.Code != CodeCaptureFailure {
		t.Errorf("capture failure = %+v", rec.Result)
	}
	rec = env.mgr.RecognizeFromCamera(ctx, faceauthtest.Capture{})
	if rec.Code != CodeCaptureFailure {
		t.Errorf("empty frame = %+v", rec.Result)
	}
	rec = env.mgr.RecognizeFromCamera(ctx, faceauthtest.Capture{Frame: []byte("alice")})
	if !rec.Success || rec.MemberID != "alice" {
		t.Errorf("camera recognize = %+v", rec)
	}
}

func TestManager_FileVariants(t *testing.T) {
	env := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()

	main := filepath.Join(dir, "erin.JPEG")
	extra := filepath.Join(dir, "erin2.png")
	for path, content := range map[string]string{main: "erin-main", extra: "erin-extra"} {
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		env.engine.AddFace([]byte(content), 1, 2)
	}

	if res := env.mgr.RegisterTeamMember(ctx, "erin", "Erin", "admin", main); !res.Success {
		t.Fatalf("RegisterTeamMember = %+v", res)
	}
	if res := env.mgr.AddPhotoFromFile(ctx, "erin", extra); !res.Success {
		t.Fatalf("AddPhotoFromFile = %+v", res)
	}
	if res := env.mgr.AddPhotoFromFile(ctx, "erin", filepath.Join(dir, "missing.jpg")); res.Success || res.Code != CodeInvalidInput {
		t.Errorf("missing file = %+v", res)
	}

	m, _ := env.store.Get("erin")
	if want := []string{"erin_main.jpg", "erin_1.png"}; !reflect.DeepEqual(m.Images, want) {
		t.Errorf("images = %v, want %v", m.Images, want)
	}
}

func TestManager_CheckPhoto(t *testing.T) {
	env := newTestManager(t)
	env.engine.SetFaces([]byte("two"),
		models.Face{Region: models.Region{Confidence: 0.9}},
		models.Face{Region: models.Region{Confidence: 0.8}},
	)

	res := env.mgr.CheckPhoto(context.Background(), jpeg("two"))
	if !res.Success || res.Faces != 2 || len(res.Regions) != 2 {
		t.Errorf("CheckPhoto = %+v", res)
	}
	res = env.mgr.CheckPhoto(context.Background(), jpeg("nothing"))
	if res.Success || res.Code != CodeNoFaceDetected {
		t.Errorf("CheckPhoto without face = %+v", res)
	}
	if env.store.Len() != 0 {
		t.Error("CheckPhoto stored something")
	}
}

func TestManager_PublisherErrorDoesNotFail(t *testing.T) {
	env := newTestManager(t)
	env.pub.Err = errors.New("nats down")
	env.engine.AddFace([]byte("alice"), 0)

	res := env.mgr.Register(context.Background(), RegisterRequest{MemberID: "alice", FullName: "Alice", Image: jpeg("alice")})
	if !res.Success {
		t.Errorf("register with failing publisher = %+v", res)
	}
}

func TestPublishers(t *testing.T) {
	a, b := &faceauthtest.Publisher{Err: errors.New("a down")}, &faceauthtest.Publisher{}
	ev := models.NewEvent(models.EventMemberRemoved, "x", clock()())

	err := Publishers{a, nil, b}.Publish(context.Background(), ev)
	if err == nil {
		t.Error("expected the first publisher's error")
	}
	if len(b.Events()) != 1 {
		t.Error("later publisher skipped after an error")
	}
}
