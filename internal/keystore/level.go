package keystore

import "fmt"

// Level is a key custody tier. Each level has a fixed unlock policy.
type Level int

// Indices are persisted and transmitted; the table below is the contract.
// Never renumber an existing entry, only append.
const (
	LevelPassword       Level = 0
	LevelPin            Level = 1
	LevelBiometric      Level = 2
	LevelLocal          Level = 3
	LevelBrowserLocal   Level = 4
	LevelBrowserSession Level = 5
)

var levelNames = map[Level]string{
	LevelPassword:       "password",
	LevelPin:            "pin",
	LevelBiometric:      "biometric",
	LevelLocal:          "local",
	LevelBrowserLocal:   "browser_local",
	LevelBrowserSession: "browser_session",
}

// Levels returns every defined level in stable index order.
func Levels() []Level {
	return []Level{
		LevelPassword,
		LevelPin,
		LevelBiometric,
		LevelLocal,
		LevelBrowserLocal,
		LevelBrowserSession,
	}
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Valid reports whether the level is one of the declared entries.
func (l Level) Valid() bool {
	_, ok := levelNames[l]
	return ok
}

// RequiresChallenge reports whether key operations at this level must prove
// knowledge of a human-memorable challenge.
func (l Level) RequiresChallenge() bool {
	return l == LevelPassword || l == LevelPin
}

// BrowserBacked reports whether records at this level are mirrored into an
// externally provided storage area.
func (l Level) BrowserBacked() bool {
	return l == LevelBrowserLocal || l == LevelBrowserSession
}

// ParseLevel maps a persisted level index back to a Level.
func ParseLevel(index int) (Level, error) {
	l := Level(index)
	if !l.Valid() {
		return 0, fmt.Errorf("unknown key level index %d", index)
	}
	return l, nil
}
