package domain

import "math/rand/v2"

// displayNamePool is the fallback pool for clients that register
// without a display name.
var displayNamePool = [...]string{
	"badger", "beaver", "bison", "cheetah", "condor", "coyote",
	"dingo", "falcon", "ferret", "gazelle", "gecko", "heron",
	"ibex", "jackal", "kestrel", "lemur", "lynx", "marmot",
	"meerkat", "ocelot", "osprey", "otter", "puffin", "raccoon",
	"stoat", "tapir", "vole", "wombat", "yak",
}

func RandomDisplayName() string {
	return displayNamePool[rand.IntN(len(displayNamePool))]
}
