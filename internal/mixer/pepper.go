package mixer

// DefaultPeppers is the build-time pepper schedule: ten fixed byte
// strings mixed into every digest in a data-dependent order. The
// identifiers match spec.md's PEPPER_ROUND_A…J; the exact UTF-8 bytes
// below are part of the digest's definition, not incidental.
var DefaultPeppers = []string{
	"PEPPER_ROUND_A",
	"PEPPER_ROUND_B",
	"PEPPER_ROUND_C",
	"PEPPER_ROUND_D",
	"PEPPER_ROUND_E",
	"PEPPER_ROUND_F",
	"PEPPER_ROUND_G",
	"PEPPER_ROUND_H",
	"PEPPER_ROUND_I",
	"PEPPER_ROUND_J",
}
