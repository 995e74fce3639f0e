package common

// AccessTokenHeaderName is the gRPC metadata key (and websocket query
// parameter) used to carry the access token.
const AccessTokenHeaderName = "access_token"

// AuthorizationHeaderName carries "Bearer <token>" on HTTP requests.
const AuthorizationHeaderName = "Authorization"
