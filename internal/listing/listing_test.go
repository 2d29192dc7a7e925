package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreate_Valid(t *testing.T) {
	svc := NewService(NewMemoryStore())

	l := &Listing{SellerID: "seller", Title: "Sourdough starter", CreditPrice: 40}
	require.NoError(t, svc.Create(context.Background(), l))

	assert.NotEmpty(t, l.ID)
	assert.True(t, l.Open)

	got, err := svc.Get(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sourdough starter", got.Title)
	assert.Equal(t, int64(40), got.CreditPrice)
}

func TestCreate_Invalid(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	tests := []struct {
		name string
		l    *Listing
	}{
		{"missing seller", &Listing{Title: "Bike repair", CreditPrice: 10}},
		{"blank title", &Listing{SellerID: "seller", Title: "   ", CreditPrice: 10}},
		{"zero price", &Listing{SellerID: "seller", Title: "Bike repair", CreditPrice: 0}},
		{"negative price", &Listing{SellerID: "seller", Title: "Bike repair", CreditPrice: -5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Create(ctx, tc.l), ErrInvalidListing)
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := NewService(NewMemoryStore())

	_, err := svc.Get(context.Background(), "lst_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClose_SellerOnly(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	l := &Listing{SellerID: "seller", Title: "Garden help", CreditPrice: 25}
	require.NoError(t, svc.Create(ctx, l))

	assert.ErrorIs(t, svc.Close(ctx, l.ID, "someone-else"), ErrNotSeller)

	require.NoError(t, svc.Close(ctx, l.ID, "seller"))
	got, err := svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.Open)
}

func TestCreateHandler_SanitizesTitleAndDescription(t *testing.T) {
	gin.SetMode(gin.TestMode)

	svc := NewService(NewMemoryStore())
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("actorID", "seller")
		c.Next()
	})
	NewHandler(svc).RegisterRoutes(router.Group("/v1"))

	longTitle := strings.Repeat("t", 300)
	longDesc := strings.Repeat("d", 3000)
	body := fmt.Sprintf(`{"title":%q,"description":%q,"creditPrice":25}`, longTitle, longDesc)

	req := httptest.NewRequest("POST", "/v1/listings", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)

	var created Listing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Len(t, created.Title, 140)
	assert.Len(t, created.Description, 2000)
}

func TestListBySeller(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	for _, title := range []string{"One", "Two", "Three"} {
		require.NoError(t, svc.Create(ctx, &Listing{SellerID: "seller", Title: title, CreditPrice: 10}))
	}
	require.NoError(t, svc.Create(ctx, &Listing{SellerID: "other", Title: "Four", CreditPrice: 10}))

	listings, err := svc.ListBySeller(ctx, "seller", 10)
	require.NoError(t, err)
	assert.Len(t, listings, 3)
	for _, l := range listings {
		assert.Equal(t, "seller", l.SellerID)
	}
}
