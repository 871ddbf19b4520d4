package auth

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func testImporter() *Importer {
	return &Importer{
		keyringGet: func(service, account string) (string, error) {
			return "", keyring.ErrNotFound
		},
		readFile: func(path string) ([]byte, error) {
			return nil, os.ErrNotExist
		},
		account:  "abc123def456",
		filePath: "/home/test/.claude/.credentials.json",
	}
}

func TestImportFromKeyring(t *testing.T) {
	imp := testImporter()
	imp.keyringGet = func(service, account string) (string, error) {
		if service != claudeKeyringService {
			t.Errorf("service = %q", service)
		}
		if account != "abc123def456" {
			t.Errorf("account = %q", account)
		}
		return `{"accessToken":"at-kr","refreshToken":"rt-kr","expiresAt":4102444800000,"scopes":["user:inference"]}`, nil
	}

	ts, err := imp.Import()
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if ts.AccessToken != "at-kr" || ts.RefreshToken != "rt-kr" {
		t.Errorf("tokens = %q/%q", ts.AccessToken, ts.RefreshToken)
	}
	if ts.Provider != "anthropic" {
		t.Errorf("provider = %q", ts.Provider)
	}
	if ts.Scope != "user:inference" {
		t.Errorf("scope = %q", ts.Scope)
	}
	if ts.ExpiresAt.Year() != 2100 {
		t.Errorf("expiry = %v", ts.ExpiresAt)
	}
}

func TestImportKeyringTakesPriority(t *testing.T) {
	imp := testImporter()
	imp.keyringGet = func(string, string) (string, error) {
		return `{"accessToken":"at-kr","expiresAt":4102444800000}`, nil
	}
	imp.readFile = func(string) ([]byte, error) {
		t.Error("file source consulted although keyring succeeded")
		return nil, os.ErrNotExist
	}

	ts, err := imp.Import()
	if err != nil {
		t.Fatal(err)
	}
	if ts.AccessToken != "at-kr" {
		t.Errorf("access token = %q", ts.AccessToken)
	}
}

func TestImportFromFile(t *testing.T) {
	imp := testImporter()
	imp.readFile = func(path string) ([]byte, error) {
		return []byte(`{"claudeAiOauth":{"accessToken":"at-file","refreshToken":"rt-file","expiresAt":4102444800000,"scopes":["user:inference","user:profile"]}}`), nil
	}

	ts, err := imp.Import()
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if ts.AccessToken != "at-file" {
		t.Errorf("access token = %q", ts.AccessToken)
	}
	if ts.Scope != "user:inference user:profile" {
		t.Errorf("scope = %q", ts.Scope)
	}
}

func TestImportAssumedLifetime(t *testing.T) {
	imp := testImporter()
	imp.readFile = func(string) ([]byte, error) {
		// No expiresAt: the conservative assumed lifetime applies.
		return []byte(`{"claudeAiOauth":{"accessToken":"at-file"}}`), nil
	}

	ts, err := imp.Import()
	if err != nil {
		t.Fatal(err)
	}
	until := time.Until(ts.ExpiresAt)
	if until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("assumed lifetime = %v, want about an hour", until)
	}
}

func TestImportNeitherSource(t *testing.T) {
	imp := testImporter()
	if _, err := imp.Import(); !errors.Is(err, ErrImportNotFound) {
		t.Fatalf("import = %v, want ErrImportNotFound", err)
	}
}

func TestImportMalformedKeyringEntry(t *testing.T) {
	imp := testImporter()
	imp.keyringGet = func(string, string) (string, error) {
		return `{not json`, nil
	}
	imp.readFile = func(string) ([]byte, error) {
		t.Error("malformed keyring entry must not fall through to file")
		return nil, os.ErrNotExist
	}

	if _, err := imp.Import(); !errors.Is(err, ErrImportParse) {
		t.Fatalf("import = %v, want ErrImportParse", err)
	}
}

func TestImportMalformedFile(t *testing.T) {
	imp := testImporter()
	imp.readFile = func(string) ([]byte, error) {
		return []byte(`{"claudeAiOauth":{}}`), nil
	}

	if _, err := imp.Import(); !errors.Is(err, ErrImportParse) {
		t.Fatalf("import = %v, want ErrImportParse", err)
	}
}

func TestHashedAccountStableAndOpaque(t *testing.T) {
	a := hashedAccount("alice")
	b := hashedAccount("alice")
	if a != b {
		t.Error("hash not stable")
	}
	if len(a) != accountHashLen {
		t.Errorf("len = %d, want %d", len(a), accountHashLen)
	}
	if a == hashedAccount("bob") {
		t.Error("distinct users collide")
	}
}
