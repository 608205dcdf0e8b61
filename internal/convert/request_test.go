package convert

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/gofrs/uuid/v5"

	"github.com/mzrzvi/authcore/internal/errs"
	"github.com/mzrzvi/authcore/internal/model"
)

func TestDecode_InvalidKeysListed(t *testing.T) {
	t.Parallel()

	var req LoginRequest
	err := Decode(strings.NewReader(`{"email":"a@b.c","password":"x","zeta":1,"alpha":2}`), &req)
	var ik *errs.InvalidKeysError
	if !errors.As(err, &ik) {
		t.Fatalf("want InvalidKeysError, got %v", err)
	}
	if got := ik.Error(); got != "Invalid request keys: alpha, zeta" {
		t.Fatalf("message = %q", got)
	}
}

func TestDecode_EmptyAndMalformed(t *testing.T) {
	t.Parallel()

	for _, body := range []string{"", "{}", "null", "[1]", "{bad"} {
		var req LoginRequest
		if err := Decode(strings.NewReader(body), &req); !errors.Is(err, errs.ErrMissingParams) {
			t.Fatalf("body %q: want ErrMissingParams, got %v", body, err)
		}
	}
}

func TestDecode_WrongTypeIsInvalidKey(t *testing.T) {
	t.Parallel()

	var req SignupRequest
	err := Decode(strings.NewReader(`{"email":"a@b.c","password":123}`), &req)
	if !errors.Is(err, errs.ErrInvalidKeys) || !strings.Contains(err.Error(), "password") {
		t.Fatalf("want invalid key password, got %v", err)
	}
}

func TestSignupRequest_Validate(t *testing.T) {
	t.Parallel()

	var req SignupRequest
	if err := Decode(strings.NewReader(`{"email":"a@b.c","password":"x","first_name":"A"}`), &req); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := req.Validate(); !errors.Is(err, errs.ErrMissingParams) {
		t.Fatalf("want ErrMissingParams without last_name, got %v", err)
	}
	req.LastName = "B"
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if p := req.Profile(); p.Email != "a@b.c" || p.Password != "x" {
		t.Fatalf("Profile: %+v", p)
	}
}

func TestUserType(t *testing.T) {
	t.Parallel()

	if k, _, err := UserType("", "standard"); err != nil || k != model.KindStandard {
		t.Fatalf("default: %v %v", k, err)
	}
	if k, _, err := UserType("Admin", "standard"); err != nil || k != model.KindAdmin {
		t.Fatalf("explicit: %v %v", k, err)
	}
	if _, name, err := UserType("guest", "standard"); !errors.Is(err, errs.ErrInvalidRole) || name != "guest" {
		t.Fatalf("want ErrInvalidRole for guest, got %q %v", name, err)
	}
}

func TestUpdateRequest_PasswordChange(t *testing.T) {
	t.Parallel()

	var req UpdateRequest
	if err := Decode(strings.NewReader(`{"first_name":"A"}`), &req); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, _, ok, err := req.PasswordChange(); ok || err != nil {
		t.Fatalf("no change requested: ok=%v err=%v", ok, err)
	}
	if upd := req.ProfileUpdate(); upd.FirstName == nil || *upd.FirstName != "A" || upd.LastName != nil {
		t.Fatalf("ProfileUpdate: %+v", upd)
	}

	req = UpdateRequest{}
	if err := Decode(strings.NewReader(`{"new_password":"n"}`), &req); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, _, _, err := req.PasswordChange(); !errors.Is(err, errs.ErrMissingParams) {
		t.Fatalf("want ErrMissingParams for half pair, got %v", err)
	}

	req = UpdateRequest{}
	if err := Decode(strings.NewReader(`{"old_password":"o","new_password":"n"}`), &req); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if o, n, ok, err := req.PasswordChange(); !ok || err != nil || o != "o" || n != "n" {
		t.Fatalf("PasswordChange: %q %q %v %v", o, n, ok, err)
	}
}

func TestLoggedIn_NeverExposesSecrets(t *testing.T) {
	t.Parallel()

	p := &model.Principal{
		ID:           uuid.Must(uuid.NewV4()),
		Kind:         model.KindStandard,
		Email:        "a@b.c",
		PasswordHash: []byte("hash"),
		PasswordSalt: []byte("salt"),
	}
	b, err := json.Marshal(LoggedIn(model.Tokens{AccessToken: "a", RefreshToken: "r"}, p))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(b)
	for _, banned := range []string{"hash", "salt", "aGFzaA"} {
		if strings.Contains(s, banned) {
			t.Fatalf("response leaks %q: %s", banned, s)
		}
	}
	if !strings.Contains(s, `"app_refresh_token":"r"`) || !strings.Contains(s, `"user_id":"`+p.ID.String()+`"`) {
		t.Fatalf("unexpected body: %s", s)
	}
	if !strings.Contains(s, `"roles":[]`) {
		t.Fatalf("want empty roles array: %s", s)
	}
}

func TestToPublic(t *testing.T) {
	t.Parallel()

	phone := "+1"
	p := &model.Principal{ID: uuid.Must(uuid.NewV4()), FirstName: "A", LastName: "B", Email: "a@b.c", PhoneNumber: &phone}
	b, _ := json.Marshal(ToPublic(p))
	if strings.Contains(string(b), "a@b.c") || strings.Contains(string(b), "+1") {
		t.Fatalf("public profile leaks contact data: %s", b)
	}
}
