/*
Interactive user sign-in for the platform's REST API, via OAuth2
authorization-code with PKCE.

A [Config] describes the registered client application. [Config.BeginAuth]
produces the authorization URL (the application decides between a popup
and a full-page redirect) and persists the request state in an
[AuthRequestStore]; [Config.HandleCallback] or [Config.CompleteAuth]
finishes the exchange and returns a signed-in [Session].

A [Session] satisfies the request package's TokenProvider: pass it as the
Auth option and every call gets the right token for its destination,
including silent refresh-token renewal and per-server token exchange for
federated servers. [SignInWithPassword] covers legacy server contexts
where the interactive flow is unavailable.

Use [Session.Serialize] / [Deserialize] to keep a session across
processes, and [Session.SerializePublic] when handing state to a browser
(it strips the refresh token).
*/
package oauth
