package mediatoken

import "testing"

func TestBuildAndVerify(t *testing.T) {
	b := Builder{AppID: "app-1", AppCertificate: "secret"}

	tok, err := b.Build("chan-1", "u42", RolePublisher, 1700003600)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	c, err := b.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.AppID != "app-1" || c.ChannelName != "chan-1" || c.SubjectID != "u42" {
		t.Fatalf("claims mismatch: %+v", c)
	}
	if c.Role != RolePublisher || c.ExpireAt != 1700003600 {
		t.Fatalf("claims mismatch: %+v", c)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := Builder{AppID: "app-1", AppCertificate: "secret"}
	t1, err := b.Build("c", "u", RoleSubscriber, 1700000000)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t2, _ := b.Build("c", "u", RoleSubscriber, 1700000000)
	if t1 != t2 {
		t.Fatalf("same inputs must produce the same token")
	}
}

func TestBuild_RejectsMissingInputs(t *testing.T) {
	cases := []struct {
		name     string
		b        Builder
		channel  string
		subject  string
		expireAt int64
	}{
		{"no app id", Builder{AppCertificate: "s"}, "c", "u", 1},
		{"no certificate", Builder{AppID: "a"}, "c", "u", 1},
		{"no channel", Builder{AppID: "a", AppCertificate: "s"}, "", "u", 1},
		{"no subject", Builder{AppID: "a", AppCertificate: "s"}, "c", "", 1},
		{"no expiry", Builder{AppID: "a", AppCertificate: "s"}, "c", "u", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.b.Build(tc.channel, tc.subject, RoleSubscriber, tc.expireAt); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestVerify_RejectsTamperedToken(t *testing.T) {
	b := Builder{AppID: "app-1", AppCertificate: "secret"}
	tok, _ := b.Build("chan-1", "u42", RoleSubscriber, 1700003600)

	other := Builder{AppID: "app-1", AppCertificate: "different"}
	if _, err := other.Verify(tok); err == nil {
		t.Fatalf("token signed with another certificate must not verify")
	}
	if _, err := b.Verify("garbage"); err == nil {
		t.Fatalf("garbage must not verify")
	}
}

func TestRoleFromString_DefaultsToSubscriber(t *testing.T) {
	if RoleFromString("publisher") != RolePublisher {
		t.Fatalf("publisher should map to publisher")
	}
	if RoleFromString("") != RoleSubscriber || RoleFromString("admin") != RoleSubscriber {
		t.Fatalf("unknown roles must default to subscriber")
	}
}

func TestBuild_UnknownRoleDowngraded(t *testing.T) {
	b := Builder{AppID: "a", AppCertificate: "s"}
	tok, err := b.Build("c", "u", Role("weird"), 1)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	c, err := b.Verify(tok)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if c.Role != RoleSubscriber {
		t.Fatalf("role = %s, want subscriber", c.Role)
	}
}
