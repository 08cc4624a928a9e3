package common

// AuthorizationHeaderName carries the bearer token issued by the identity provider.
const AuthorizationHeaderName = "Authorization"

// TempRecipientPrefix marks client-side placeholder recipient ids.
const TempRecipientPrefix = "temp-"
