package portal

// LoginForm is the urlencoded body of POST /login.
type LoginForm struct {
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required"`
}

// LoginRequest is the JSON body of POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned by the JSON variant. The tokens only travel
// inside RedirectURL's fragment.
type LoginResponse struct {
	RedirectURL string `json:"redirect_url"`
	Target      Target `json:"target"`
	Role        string `json:"role"`
}

// loginPage is the data the sign-in template renders.
type loginPage struct {
	Email string
	Error string
	Year  int
}
