package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/your-org/facegate/internal/faceauth"
	"github.com/your-org/facegate/internal/models"
)

func TestCommandTree(t *testing.T) {
	want := []string{"enroll", "add-photo", "recognize", "check", "list", "remove", "watch", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered (got %v, err %v)", name, cmd, err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "facectl dev\n") {
		t.Errorf("output = %q", out.String())
	}
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		name    string
		res     faceauth.Result
		want    string
		wantErr bool
	}{
		{
			name: "success",
			res:  faceauth.Result{Success: true, Message: "team member alice registered"},
			want: "team member alice registered\n",
		},
		{
			name:    "failure with code",
			res:     faceauth.Result{Message: "no face detected in photo", Code: faceauth.CodeNoFaceDetected},
			want:    "no face detected in photo (no_face_detected)\n",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := printResult(&buf, tt.res)
			if buf.String() != tt.want {
				t.Errorf("printResult() wrote %q, want %q", buf.String(), tt.want)
			}
			if tt.wantErr != errors.Is(err, errFailed) {
				t.Errorf("printResult() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrintRecognition(t *testing.T) {
	var buf bytes.Buffer
	err := printRecognition(&buf, faceauth.Recognition{
		Result:     faceauth.Result{Success: true, Message: "welcome, Alice Smith"},
		MemberID:   "alice",
		Role:       "nurse",
		Confidence: 81.25,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"welcome, Alice Smith", "alice", "nurse", "81.2%"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output %q missing %q", buf.String(), want)
		}
	}

	buf.Reset()
	err = printRecognition(&buf, faceauth.Recognition{
		Result: faceauth.Result{Message: "face not recognized", Code: faceauth.CodeNotRecognized},
	})
	if !errors.Is(err, errFailed) {
		t.Errorf("rejected recognition error = %v", err)
	}
}

func TestPrintMembers(t *testing.T) {
	var buf bytes.Buffer
	printMembers(&buf, nil)
	if buf.String() != "No team members registered.\n" {
		t.Errorf("empty list = %q", buf.String())
	}

	buf.Reset()
	printMembers(&buf, []models.MemberSummary{
		{Username: "alice", FullName: "Alice Smith", Role: "nurse", PhotoCount: 3, RegisteredAt: time.Now()},
		{Username: "bob", FullName: "Bob Jones", PhotoCount: 1, RegisteredAt: time.Now()},
	})
	out := buf.String()
	if !strings.Contains(out, "USERNAME") || !strings.Contains(out, "Alice Smith") || !strings.Contains(out, "Total: 2") {
		t.Errorf("list output = %q", out)
	}
}

func TestPrintEvent(t *testing.T) {
	ev := models.NewEvent(models.EventMemberRecognized, "alice", time.Now())
	ev.FullName = "Alice Smith"
	ev.Confidence = 90

	var buf bytes.Buffer
	printEvent(&buf, ev)
	if !strings.Contains(buf.String(), "member.recognized") || !strings.Contains(buf.String(), "Alice Smith (90.0%)") {
		t.Errorf("event line = %q", buf.String())
	}
}
