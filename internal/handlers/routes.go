package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/natours/apiserver/types"
)

// UsersRouter registers the account routes on r.
func UsersRouter(r chi.Router, auth *AuthHandler, accounts *AccountHandler) {
	r.With(auth.identify).Post("/signup", auth.Signup)
	r.Post("/login", auth.Login)
	r.Get("/logout", auth.Logout)
	r.Post("/forgotPassword", auth.ForgotPassword)
	r.Patch("/resetPassword/{token}", auth.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(auth.Protect)

		r.Patch("/updateMyPassword", auth.UpdatePassword)
		r.Get("/me", accounts.Me)
		r.Patch("/updateMe", accounts.UpdateMe)
		r.Delete("/deleteMe", accounts.DeleteMe)

		r.With(RestrictTo(types.RoleAdmin)).Get("/", accounts.ListUsers)
	})
}
