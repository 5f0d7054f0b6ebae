package dto

// ErrorResponse cuerpo de error HTTP (auth, body inválido, falla interna).
// Las fallas de negocio van dentro de ResultResponse.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
