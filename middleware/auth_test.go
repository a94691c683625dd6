package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hashscope/backend/model"
	"github.com/hashscope/backend/repository"
	"github.com/hashscope/backend/service"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, model.AutoMigrate(db))
	return db
}

// signedToken mints an HS256 session token the way the auth service does.
func signedToken(t *testing.T, secret, wallet string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   wallet,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func protectedRouter(auth *service.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(auth), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"wallet": CurrentUser(c).WalletAddress})
	})
	r.GET("/admin", JWTAuth(auth), AdminRequired(), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	db := testDB(t)
	users := repository.NewUserRepository(db)
	auth := service.NewAuthService(users, "secret", time.Hour, 32)

	wallet := "0x1111111111111111111111111111111111111111"
	require.NoError(t, db.Create(&model.User{WalletAddress: wallet, Balance: "0"}).Error)
	token := signedToken(t, "secret", wallet)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	protectedRouter(auth).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), wallet)
}

func TestJWTAuthRejectsMissingAndGarbageTokens(t *testing.T) {
	auth := service.NewAuthService(repository.NewUserRepository(testDB(t)), "secret", time.Hour, 32)
	r := protectedRouter(auth)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRequiredBlocksRegularUsers(t *testing.T) {
	db := testDB(t)
	auth := service.NewAuthService(repository.NewUserRepository(db), "secret", time.Hour, 32)

	wallet := "0x2222222222222222222222222222222222222222"
	require.NoError(t, db.Create(&model.User{WalletAddress: wallet, Balance: "0"}).Error)
	token := signedToken(t, "secret", wallet)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	protectedRouter(auth).ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPIKeyAuthHeaderParsing(t *testing.T) {
	db := testDB(t)
	keys := service.NewAPIKeyService(repository.NewAPIKeyRepository(db), time.Hour)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/data", APIKeyAuth(keys), func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, header := range []string{"", "ApiKey", "ApiKey justonepart", "Bearer a:b"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/data", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}
