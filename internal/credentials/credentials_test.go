package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	bundle := Bundle{
		FormAPIKey:     "key123",
		FormID:         "f1",
		SurveyAPIToken: "tok456",
		SurveyID:       "sv1",
		SurveyBaseURL:  "https://example.qualtrics.com",
	}

	if err := Save(path, bundle, "correct horse"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path, "correct horse")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != bundle {
		t.Errorf("round trip mangled bundle: %+v", got)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("bundle file mode = %o, want 600", perm)
	}
}

func TestLoadWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	if err := Save(path, Bundle{FormAPIKey: "key123"}, "right"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := Load(path, "wrong"); !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("Load = %v, want ErrBadPassphrase", err)
	}
}

func TestLoadTamperedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.enc")
	if err := Save(path, Bundle{FormAPIKey: "key123"}, "pass"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[len(data)-1] ^= 0xff
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path, "pass"); !errors.Is(err, ErrBadPassphrase) {
		t.Errorf("Load tampered = %v, want ErrBadPassphrase", err)
	}
}

func TestCiphertextNotDeterministic(t *testing.T) {
	dir := t.TempDir()
	a, b := filepath.Join(dir, "a.enc"), filepath.Join(dir, "b.enc")
	bundle := Bundle{FormAPIKey: "key123"}
	if err := Save(a, bundle, "pass"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := Save(b, bundle, "pass"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	da, _ := os.ReadFile(a)
	db, _ := os.ReadFile(b)
	if string(da) == string(db) {
		t.Error("two encryptions of the same bundle produced identical bytes")
	}
}
