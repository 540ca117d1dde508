// Package services implements the vault: key management, the credential
// store, the TOTP second factor, authentication, recovery and backups.
//
// Everything that needs the encryption key goes through a Session owned by
// the AuthController. Operations that need the key fail with
// common.ErrNotInitialized unless the session is AUTHENTICATED.
//
// Typical usage
//
//	v := services.NewVault(cfg, log)
//	defer v.Close(ctx)
//	_ = v.Auth.SubmitPassword(ctx, pw)
//	res, _ := v.Credentials.List(ctx)
package services
