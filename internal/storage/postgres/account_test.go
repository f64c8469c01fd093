package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, "secret123", hash)
}

func TestCheckPassword_Correct(t *testing.T) {
	hash, err := HashPassword("mypassword")
	assert.NoError(t, err)
	assert.True(t, CheckPassword("mypassword", hash))
}

func TestCheckPassword_Wrong(t *testing.T) {
	hash, err := HashPassword("mypassword")
	assert.NoError(t, err)
	assert.False(t, CheckPassword("wrongpassword", hash))
}

// Property: HashPassword always produces a hash that CheckPassword verifies.
func TestPropertyHashAndCheck(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// bcrypt has a max input length of 72 bytes
		password := rapid.StringMatching(`[a-zA-Z0-9!@#$%^&*]{1,64}`).Draw(t, "password")
		hash, err := HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if !CheckPassword(password, hash) {
			t.Fatalf("CheckPassword failed for password %q", password)
		}
	})
}

// TestValidCapability verifies the three known levels and rejects unknowns.
func TestValidCapability(t *testing.T) {
	assert.True(t, ValidCapability(CapPlayer))
	assert.True(t, ValidCapability(CapGameMaster))
	assert.True(t, ValidCapability(CapAdmin))
	assert.False(t, ValidCapability(-1))
	assert.False(t, ValidCapability(7))
}

// Property: ValidCapability accepts exactly the three defined levels.
func TestPropertyValidCapability(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cap := rapid.IntRange(-10, 200).Draw(t, "cap")
		got := ValidCapability(cap)
		want := cap == CapPlayer || cap == CapGameMaster || cap == CapAdmin
		if got != want {
			t.Fatalf("ValidCapability(%d) = %v, want %v", cap, got, want)
		}
	})
}

// Property: Wrong password never validates.
func TestPropertyWrongPasswordNeverValidates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		correct := rapid.StringMatching(`[a-zA-Z0-9]{6,30}`).Draw(t, "correct")
		wrong := rapid.StringMatching(`[a-zA-Z0-9]{6,30}`).Draw(t, "wrong")

		if correct == wrong {
			return // skip trivial case
		}

		hash, err := HashPassword(correct)
		assert.NoError(t, err)
		assert.False(t, CheckPassword(wrong, hash),
			"wrong password %q should not match hash of %q", wrong, correct)
	})
}
