package oxidefile

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	payload := []byte(`{"host":"example.com","user":"deploy"}`)
	blob, err := Encrypt(payload, "correct horse battery staple")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	got, err := Decrypt(blob, "correct horse battery staple")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestDecryptWrongPasswordFails(t *testing.T) {
	blob, err := Encrypt([]byte("secret"), "correct-password")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if _, err := Decrypt(blob, "wrong-password"); err == nil {
		t.Fatal("expected decrypt to fail with wrong password")
	}
}
