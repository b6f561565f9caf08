// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityAccess                      // Access token required
)

// EndpointSecurityConfig maps methods to their required security level
var EndpointSecurityConfig = map[string]SecurityLevel{
	// Health - Public
	"/grpc.health.v1.Health/Check": SecurityPublic,

	// CustodyService - Access Protected
	"/peerlend.custody.v1.CustodyService/CreateTransaction":    SecurityAccess,
	"/peerlend.custody.v1.CustodyService/GetTransaction":       SecurityAccess,
	"/peerlend.custody.v1.CustodyService/VerifyHandoff":        SecurityAccess,
	"/peerlend.custody.v1.CustodyService/VerifyReturn":         SecurityAccess,
	"/peerlend.custody.v1.CustodyService/CancelTransaction":    SecurityAccess,
	"/peerlend.custody.v1.CustodyService/ReportIssue":          SecurityAccess,
	"/peerlend.custody.v1.CustodyService/ReissueToken":         SecurityAccess,
	"/peerlend.custody.v1.CustodyService/RecordDisputeOutcome": SecurityAccess,

	// ListingService - Access Protected
	"/peerlend.custody.v1.ListingService/ListItem":           SecurityAccess,
	"/peerlend.custody.v1.ListingService/UpdateListingPrice": SecurityAccess,
	"/peerlend.custody.v1.ListingService/Delist":             SecurityAccess,
	"/peerlend.custody.v1.ListingService/GetItem":            SecurityAccess,
	"/peerlend.custody.v1.ListingService/SuggestPrice":       SecurityPublic,
}

// GetSecurityLevel returns the security level for a given method
func GetSecurityLevel(method string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[method]; exists {
		return level
	}
	// Default to highest security for unknown endpoints
	return SecurityAccess
}
