package permissions

import "github.com/relaygate/gateway/internal/session"

// adminOps and writeOps are the closed sets of spec §4.2's operation tier
// table. Everything else — including all subscribe/unsubscribe/read
// operations — is read tier.
var adminOps = map[string]bool{
	"store.defineBucket":  true,
	"store.defineQuery":   true,
	"rules.registerRule":  true,
	"procedures.register": true,
	"server.stats":        true,
	"server.connections":  true,
	"server.audit":        true,
}

var writeOps = map[string]bool{
	"store.insert":      true,
	"store.update":      true,
	"store.delete":      true,
	"store.clear":       true,
	"store.transaction": true,
	"rules.emit":        true,
	"rules.setFact":     true,
	"rules.deleteFact":  true,
	"procedures.call":   true,
}

// OperationTier derives the coarse permission class of an operation from
// the closed table above.
func OperationTier(operation string) session.Tier {
	if adminOps[operation] {
		return session.TierAdmin
	}
	if writeOps[operation] {
		return session.TierWrite
	}
	return session.TierRead
}
