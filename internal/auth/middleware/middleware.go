package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/frankdogbe328/signals-sub000/internal/exam"
)

type AuthService struct {
	hmac []byte
	ttl  time.Duration
	now  func() time.Time
}

func NewAuthService(secret string) *AuthService {
	return &AuthService{hmac: []byte(secret), ttl: 8 * time.Hour, now: time.Now}
}

type Claims struct {
	Sub      string   `json:"sub"`
	Role     string   `json:"role"` // student|lecturer|admin
	ClassID  string   `json:"class_id,omitempty"`
	Subjects []string `json:"subjects,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() exam.Identity {
	return exam.Identity{ID: c.Sub, Role: exam.Role(c.Role), ClassID: c.ClassID, Subjects: c.Subjects}
}

func (a *AuthService) IssueJWT(id exam.Identity) (string, error) {
	now := a.now()
	claims := &Claims{
		Sub:      id.ID,
		Role:     string(id.Role),
		ClassID:  id.ClassID,
		Subjects: id.Subjects,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "examd",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(a.hmac)
}

func (a *AuthService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	c, _ := token.Claims.(*Claims)
	return c, nil
}

// POST /auth/login  { "username": "...", "password": "..." }
// Only the configured administrator logs in here; students and lecturers
// arrive with tokens from the identity provider.
func LoginHandler(a *AuthService, adminUser, adminPassHash string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Username != adminUser ||
			bcrypt.CompareHashAndPassword([]byte(adminPassHash), []byte(req.Password)) != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		tok, err := a.IssueJWT(exam.Identity{ID: req.Username, Role: exam.RoleAdmin})
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok})
	}
}

// POST /auth/tokens (admin) mints a token for a student or lecturer. Used
// offline where no external identity provider is wired.
func IssueTokenHandler(a *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var id exam.Identity
		if err := json.NewDecoder(r.Body).Decode(&id); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		switch id.Role {
		case exam.RoleStudent, exam.RoleLecturer, exam.RoleAdmin:
		default:
			http.Error(w, "role must be student, lecturer or admin", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(id.ID) == "" {
			http.Error(w, "id required", http.StatusBadRequest)
			return
		}
		tok, err := a.IssueJWT(id)
		if err != nil {
			http.Error(w, "issue token", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok})
	}
}

func JWTMiddleware(a *AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "missing bearer", http.StatusUnauthorized)
				return
			}
			claims, err := a.Parse(strings.TrimPrefix(h, "Bearer "))
			if err != nil || claims.Sub == "" {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), claims.Identity())))
		})
	}
}
