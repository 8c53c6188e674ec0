package session

// WebSocket close codes used on the node control channel. 1000-1015 are the
// RFC 6455 reserved range; 4000-4999 is the private-use range this protocol
// claims for its own rejection reasons.
const (
	CloseNormal             = 1000 // graceful shutdown, either side
	CloseAuthFailed         = 4001 // upgrade token invalid, expired, or unknown
	CloseBadFrame           = 4400 // a second register frame, or a valid frame type the manager does not handle; malformed or invalid frames are dropped without closing
	CloseUnauthenticated    = 4401 // any frame received before a register frame bound the identity
	CloseSuperseded         = 4410 // a newer connection for the same identity replaced this one
	CloseRateLimited        = 4429 // inbound message rate exceeded
	CloseUnsupportedVersion = 4400 // protocol version not in SupportedProtocolVersions
)
