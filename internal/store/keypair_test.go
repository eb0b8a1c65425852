package store

import "testing"

func TestSaveAndGetKeyPair(t *testing.T) {
	db := openTestDB(t)
	instID := seedInstance(t, db, "inst-kp")

	kp := &KeyPair{InstanceID: instID, PrivateKey: "priv==", PublicKey: "pub=="}
	if _, err := db.SaveKeyPair(kp); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetKeyPairByInstance(instID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PublicKey != "pub==" {
		t.Fatalf("got %+v", got)
	}
}

func TestSaveKeyPairReplacesExisting(t *testing.T) {
	db := openTestDB(t)
	instID := seedInstance(t, db, "inst-kp-2")

	if _, err := db.SaveKeyPair(&KeyPair{InstanceID: instID, PrivateKey: "priv1", PublicKey: "pub1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveKeyPair(&KeyPair{InstanceID: instID, PrivateKey: "priv2", PublicKey: "pub2"}); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetKeyPairByInstance(instID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PublicKey != "pub2" {
		t.Fatalf("expected key pair to be replaced, got %+v", got)
	}
}

func TestGetKeyPairNotFound(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.GetKeyPairByInstance(999); err == nil {
		t.Fatal("expected not-found error")
	}
}
