package resources

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

type httpEnv struct {
	env
	router http.Handler
	org1   Resource
	org2   Resource
	inv1   Resource
	cred1  Resource
	cow1   Resource
}

func newHTTPEnv(t *testing.T, levels []string) httpEnv {
	t.Helper()
	e := newEnv(t, levels)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if id := r.Header.Get("X-Test-Subject"); id != "" {
				subject := rbac.Subject{ID: id, Superuser: id == "admin"}
				r = r.WithContext(rbac.ContextWithSubject(r.Context(), subject))
			}
			next.ServeHTTP(w, r)
		})
	})
	NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), e.svc, e.reg).MountRoutes(r)

	h := httpEnv{env: e, router: r}
	h.org1 = e.create(t, TypeOrganization, "org1", nil)
	h.org2 = e.create(t, TypeOrganization, "org2", nil)
	h.inv1 = e.create(t, TypeInventory, "inv1", map[string]*string{"organization": &h.org1.ID})
	h.cred1 = e.create(t, TypeCredential, "cred1", map[string]*string{"organization": &h.org1.ID})
	h.cow1 = e.create(t, TypeCow, "cow1", map[string]*string{"organization": &h.org1.ID})
	return h
}

func (h httpEnv) do(t *testing.T, method, path, subject, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		req.Header.Set("X-Test-Subject", subject)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerRejectsAnonymous(t *testing.T) {
	h := newHTTPEnv(t, nil)
	paths := []string{
		"/inventories/",
		"/inventories/" + h.inv1.ID,
		"/inventories/9000",
		"/cows/" + h.cow1.ID + "/cowsay",
	}
	for _, path := range paths {
		for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPatch, http.MethodPut, http.MethodPost} {
			rec := h.do(t, method, path, "", "{}")
			if rec.Code == http.StatusMethodNotAllowed {
				continue
			}
			assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", method, path)
		}
	}
}

func TestHandlerListShowsInheritedObjects(t *testing.T) {
	h := newHTTPEnv(t, nil)

	rec := h.do(t, http.MethodGet, "/inventories/", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Count   int              `json:"count"`
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Zero(t, payload.Count)

	h.grant(t, "bob", "org-inventory-viewer", TypeOrganization, rbac.Ref(TypeOrganization, h.org1.ID), "view_inventory")
	rec = h.do(t, http.MethodGet, "/inventories/", "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Equal(t, 1, payload.Count)
	assert.Equal(t, h.inv1.ID, payload.Results[0]["id"])
	assert.Equal(t, h.org1.ID, payload.Results[0]["organization"])

	rec = h.do(t, http.MethodGet, "/inventories/"+h.inv1.ID, "bob", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = h.do(t, http.MethodGet, "/inventories/9000", "bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerPatchRequiresChange(t *testing.T) {
	h := newHTTPEnv(t, nil)
	path := "/inventories/" + h.inv1.ID
	ref := rbac.Ref(TypeInventory, h.inv1.ID)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPatch, path, "bob", "{}").Code)

	h.grant(t, "bob", "inventory-viewer", TypeInventory, ref, "view_inventory")
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodPatch, path, "bob", "{}").Code)

	h.grant(t, "bob", "inventory-editor", TypeInventory, ref, "change_inventory")
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPatch, path, "bob", "{}").Code)

	rec := h.do(t, http.MethodPut, path, "bob", `{"organization": "`+h.org1.ID+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name"`)

	rec = h.do(t, http.MethodPut, path, "bob", `{"name": "renamed", "organization": "`+h.org1.ID+`", "id": "ignored"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "renamed")
}

func TestHandlerAddUnderOrganization(t *testing.T) {
	h := newHTTPEnv(t, nil)
	body := `{"name": "new inventory", "organization": "` + h.org1.ID + `"}`

	rec := h.do(t, http.MethodPost, "/inventories/", "bob", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "organization")

	h.grant(t, "bob", "org-inventory-adder", TypeOrganization, rbac.Ref(TypeOrganization, h.org1.ID), "add_inventory")
	rec = h.do(t, http.MethodPost, "/inventories/", "bob", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "bob", created["created_by"])

	rec = h.do(t, http.MethodPatch, "/inventories/"+id, "bob", `{"name": "mine"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "creator can change the new object")

	rec = h.do(t, http.MethodPost, "/organizations/", "bob", `{"name": "org3"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerRootCreateNeedsGlobalAdd(t *testing.T) {
	h := newHTTPEnv(t, nil)

	rec := h.do(t, http.MethodPost, "/organizations/", "bob", `not json`)
	assert.Equal(t, http.StatusForbidden, rec.Code, "permission is checked before the body")
	assert.Contains(t, rec.Body.String(), "add_organization")

	h.grant(t, "bob", "org-adder", "", nil, "add_organization")
	rec = h.do(t, http.MethodPost, "/organizations/", "bob", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/organizations/", "bob", `{"name": "org3"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"org3"`)
}

func TestHandlerMoveAndDetach(t *testing.T) {
	h := newHTTPEnv(t, nil)
	path := "/inventories/" + h.inv1.ID
	h.grant(t, "bob", "inventory-editor", TypeInventory, rbac.Ref(TypeInventory, h.inv1.ID), "view_inventory", "change_inventory")

	move := `{"organization": "` + h.org2.ID + `"}`
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodPatch, path, "bob", move).Code)
	h.grant(t, "bob", "org-inventory-adder", TypeOrganization, rbac.Ref(TypeOrganization, h.org2.ID), "add_inventory")
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPatch, path, "bob", move).Code)

	detach := `{"organization": null}`
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodPatch, path, "bob", detach).Code)
	h.grant(t, "bob", "global-inventory-adder", "", nil, "add_inventory")
	rec := h.do(t, http.MethodPatch, path, "bob", detach)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"organization":null`)
}

func TestHandlerRelatedCredential(t *testing.T) {
	cases := []struct {
		name   string
		levels []string
		perms  []string
		status int
	}{
		{name: "view is not enough by default", perms: []string{"view_credential"}, status: http.StatusForbidden},
		{name: "use is enough by default", perms: []string{"use_credential"}, status: http.StatusOK},
		{name: "view configured", levels: []string{"view"}, perms: []string{"view_credential"}, status: http.StatusOK},
		{name: "checks disabled", levels: []string{}, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHTTPEnv(t, tc.levels)
			h.grant(t, "bob", "inventory-editor", TypeInventory, rbac.Ref(TypeInventory, h.inv1.ID), "view_inventory", "change_inventory")
			if len(tc.perms) > 0 {
				h.grant(t, "bob", "credential-user", TypeCredential, rbac.Ref(TypeCredential, h.cred1.ID), tc.perms...)
			}
			rec := h.do(t, http.MethodPatch, "/inventories/"+h.inv1.ID, "bob", `{"credential": "`+h.cred1.ID+`"}`)
			require.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusForbidden {
				var body map[string][]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Contains(t, body, "credential")
			}
		})
	}
}

func TestHandlerBodyValidation(t *testing.T) {
	h := newHTTPEnv(t, nil)
	path := "/inventories/" + h.inv1.ID

	rec := h.do(t, http.MethodPatch, path, "admin", `{"color": "red"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "color")

	rec = h.do(t, http.MethodPatch, path, "admin", `{"organization": 12}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPatch, path, "admin", `{"organization": "9000"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "does not exist")

	rec = h.do(t, http.MethodPatch, path, "admin", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerCowsay(t *testing.T) {
	h := newHTTPEnv(t, nil)
	path := "/cows/" + h.cow1.ID + "/cowsay"
	ref := rbac.Ref(TypeCow, h.cow1.ID)
	h.grant(t, "bob", "cow-viewer", TypeCow, ref, "view_cow")

	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, path, "bob", "").Code)

	h.grant(t, "bob", "cow-talker", TypeCow, ref, "say_cow")
	rec := h.do(t, http.MethodPost, path, "bob", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"detail": "moooooo"}`, rec.Body.String())
}

func TestHandlerDelete(t *testing.T) {
	h := newHTTPEnv(t, nil)
	path := "/cows/" + h.cow1.ID
	h.grant(t, "bob", "cow-viewer", TypeCow, rbac.Ref(TypeCow, h.cow1.ID), "view_cow")

	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodDelete, path, "bob", "").Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, path, "admin", "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, path, "admin", "").Code)

	_, err := h.repo.Get(context.Background(), TypeCow, h.cow1.ID)
	assert.True(t, IsNotFound(err))
}
