// Package redact masks sensitive values in free-form text before it is
// persisted.
//
// # Pattern Classes
//
// Four built-in classes are applied only when their key appears in the
// active key list (case-insensitive):
//
//   - phone:    11-digit mobile numbers (13812345678 → 13*******78)
//   - idCard:   18-character national ID numbers
//   - email:    user@example.com → us************om
//   - bankCard: 16-19 digit card numbers
//
// In addition every configured key produces two generic patterns that mask
// only the value:
//
//	"password": "hunter22"   → "password": "hu****22"
//	?token=abcdefghij&x=1    → ?token=ab******ij&x=1
//
// # Masking
//
// A value keeps its first two and last two characters; the interior is
// replaced by one '*' per character. Values of four characters or fewer
// become "****". Masked output never matches a pattern differently than its
// input did, so Redact is idempotent:
//
//	redact.Redact(redact.Redact(s, keys), keys) == redact.Redact(s, keys)
//
// # Usage
//
//	keys := []string{"password", "token", "phone"}
//	safe := redact.Redact("login phone=13812345678 password=hunter22", keys)
//	// login phone=13*******78 password=hu****22
//
// Compiled per-key patterns are cached, so a Filter (or the package-level
// Redact) can be called on hot paths.
package redact
