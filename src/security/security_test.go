package security

import (
	"testing"

	"github.com/assembler-0/VoidFrame-sub000/src/defs"
)

func TestIssueProducesValidToken(t *testing.T) {
	tok := Issue(5, 1, defs.PRIV_USER, defs.FLAG_CORE, 100)
	if !Validate(&tok, 5) {
		t.Fatal("expected freshly issued token to validate")
	}
}

func TestValidateRejectsWrongPid(t *testing.T) {
	tok := Issue(5, 1, defs.PRIV_USER, 0, 100)
	if Validate(&tok, 6) {
		t.Fatal("expected token issued for pid 5 to fail validation under pid 6")
	}
}

func TestValidateRejectsTamperedFlags(t *testing.T) {
	tok := Issue(5, 1, defs.PRIV_USER, 0, 100)
	tok.Flags |= defs.FLAG_SUPERVISOR
	if Validate(&tok, 5) {
		t.Fatal("expected a flags tamper to invalidate the token")
	}
}

func TestValidateRejectsBadMagic(t *testing.T) {
	tok := Issue(5, 1, defs.PRIV_USER, 0, 100)
	tok.Magic = 0
	if Validate(&tok, 5) {
		t.Fatal("expected a corrupted magic to invalidate the token")
	}
}

func TestHasFlagRequiresAllBits(t *testing.T) {
	tok := Issue(1, 0, defs.PRIV_SYSTEM, defs.FLAG_IMMUNE|defs.FLAG_SUPERVISOR, 0)
	if !tok.HasFlag(defs.FLAG_IMMUNE) {
		t.Fatal("expected FLAG_IMMUNE present")
	}
	if tok.HasFlag(defs.FLAG_IMMUNE | defs.FLAG_CRITICAL) {
		t.Fatal("expected missing FLAG_CRITICAL to fail HasFlag")
	}
}

func TestIsCoreRequiresFullSet(t *testing.T) {
	tok := Issue(0, 0, defs.PRIV_SYSTEM, defs.FLAG_IMMUNE|defs.FLAG_CRITICAL|defs.FLAG_SUPERVISOR, 0)
	if !tok.IsCore() {
		t.Fatal("expected token with all three core flags to be core")
	}
	partial := Issue(0, 0, defs.PRIV_SYSTEM, defs.FLAG_IMMUNE|defs.FLAG_CRITICAL, 0)
	if partial.IsCore() {
		t.Fatal("expected a partial flag set not to count as core")
	}
}
