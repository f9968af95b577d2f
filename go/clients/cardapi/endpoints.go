package cardapi

const (
	// DefaultBaseURL is the hosted card catalogue.
	DefaultBaseURL = "https://web-production-d4ebf.up.railway.app"

	cardsPath = "/cards"

	paramName      = "fname"
	paramType      = "type"
	paramAttribute = "attribute"
	paramLevel     = "level"
	paramATK       = "atk"
	paramDEF       = "def"
	paramArchetype = "archetype"
	paramNum       = "num"
	paramOffset    = "offset"

	AcceptHeader    = "accept"
	JSONContentType = "application/json"
)
