package tests

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/google/uuid"
)

const api = "/api/v1"

type apiError struct {
	Status  int
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d (%v): %v", e.Status, e.Code, e.Message)
}

// statusOf returns the status of a failed request, 0 if err is not from the api.
func statusOf(err error) int {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

type httpTestRequest struct {
	api http.Handler

	method   string
	endpoint string
	headers  map[string]string
	json     interface{}
	body     io.Reader
}

func (r *httpTestRequest) Header(key, value string) *httpTestRequest {
	if r.headers == nil {
		r.headers = make(map[string]string)
	}
	r.headers[key] = value
	return r
}

func (r *httpTestRequest) Json(data interface{}) *httpTestRequest {
	r.json = data
	return r
}

func (r *httpTestRequest) Body(body io.Reader, contentType string) *httpTestRequest {
	r.body = body
	return r.Header("Content-Type", contentType)
}

func (r *httpTestRequest) send() (*httptest.ResponseRecorder, error) {
	if r.json != nil {
		body := new(bytes.Buffer)
		if err := json.NewEncoder(body).Encode(r.json); err != nil {
			return nil, fmt.Errorf("error encoding json body for endpoint %v: %w", r.endpoint, err)
		}
		r.body = body
	}

	req := httptest.NewRequest(r.method, r.endpoint, r.body)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	r.api.ServeHTTP(w, req)

	if w.Code >= 300 && w.Code != http.StatusTemporaryRedirect {
		apiErr := &apiError{Status: w.Code}
		if err := json.Unmarshal(w.Body.Bytes(), apiErr); err != nil {
			apiErr.Message = w.Body.String()
		}
		return w, apiErr
	}

	return w, nil
}

// Do parses the response body into result, passing nil indicates that no result is returned.
func (r *httpTestRequest) Do(result interface{}) error {
	w, err := r.send()
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(w.Body.Bytes(), result); err != nil {
			return fmt.Errorf("error parsing %v response from endpoint %v: %w", r.method, r.endpoint, err)
		}
	}
	return nil
}

// Raw returns the recorded response for endpoints that do not return json.
func (r *httpTestRequest) Raw() (*httptest.ResponseRecorder, error) {
	return r.send()
}

type client struct {
	api       http.Handler
	authToken string
	user      userInfo
}

func (c *client) request(method, endpoint string) *httpTestRequest {
	r := &httpTestRequest{api: c.api, method: method, endpoint: api + endpoint}
	if c.authToken != "" {
		r.Header("Authorization", "Bearer "+c.authToken)
	}
	return r
}

func (c *client) Get(endpoint string) *httpTestRequest    { return c.request("GET", endpoint) }
func (c *client) Post(endpoint string) *httpTestRequest   { return c.request("POST", endpoint) }
func (c *client) Put(endpoint string) *httpTestRequest    { return c.request("PUT", endpoint) }
func (c *client) Patch(endpoint string) *httpTestRequest  { return c.request("PATCH", endpoint) }
func (c *client) Delete(endpoint string) *httpTestRequest { return c.request("DELETE", endpoint) }

type userInfo struct {
	Id           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Role         string    `json:"role"`
	TeamId       uuid.UUID `json:"team_id"`
	MustResetPwd bool      `json:"must_reset_password"`
}

type loginResponse struct {
	User        userInfo  `json:"user"`
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (c *client) useSession(res loginResponse) {
	c.authToken = res.AccessToken
	c.user = res.User
}

func (c *client) setup(email, password, team string) error {
	var res loginResponse
	err := c.Post("/setup/init").Json(map[string]string{"email": email, "password": password, "team_name": team}).Do(&res)
	if err != nil {
		return err
	}
	c.useSession(res)
	return nil
}

func (c *client) signup(email, password, team string) error {
	var res loginResponse
	err := c.Post("/setup/signup").Json(map[string]string{"email": email, "password": password, "team_name": team}).Do(&res)
	if err != nil {
		return err
	}
	c.useSession(res)
	return nil
}

func (c *client) login(email, password string) error {
	var res loginResponse
	err := c.Post("/auth/login").Json(map[string]interface{}{"email": email, "password": password}).Do(&res)
	if err != nil {
		return err
	}
	c.useSession(res)
	return nil
}

func (c *client) me() (userInfo, error) {
	var res userInfo
	err := c.Get("/auth/me").Do(&res)
	return res, err
}

func (c *client) resetPassword(password string) error {
	return c.Post("/auth/reset-password").Json(map[string]string{"new_password": password}).Do(nil)
}

func (c *client) changePassword(oldPassword, newPassword string) error {
	return c.Put("/auth/password").Json(map[string]string{"old_password": oldPassword, "new_password": newPassword}).Do(nil)
}

type createdUser struct {
	User         userInfo `json:"user"`
	TempPassword string   `json:"temp_password"`
}

func (c *client) createUser(email, role string) (createdUser, error) {
	var res createdUser
	err := c.Post("/users").Json(map[string]string{"email": email, "role": role}).Do(&res)
	return res, err
}

func (c *client) setRole(userId uuid.UUID, role string) error {
	return c.Put(fmt.Sprintf("/users/%v", userId)).Json(map[string]string{"role": role}).Do(nil)
}

func (c *client) deleteUser(userId uuid.UUID) error {
	return c.Delete(fmt.Sprintf("/users/%v", userId)).Do(nil)
}

type page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
}

func (c *client) listUsers() (page[userInfo], error) {
	var res page[userInfo]
	err := c.Get("/users").Do(&res)
	return res, err
}

type fieldInfo struct {
	Id       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Required bool            `json:"required"`
	Position int             `json:"position"`
	Config   json.RawMessage `json:"config"`
}

type schemaInfo struct {
	Id     uuid.UUID   `json:"id"`
	Name   string      `json:"name"`
	Fields []fieldInfo `json:"fields"`
}

// fieldIds maps field names to ids.
func (s schemaInfo) fieldIds() map[string]string {
	ids := make(map[string]string, len(s.Fields))
	for _, f := range s.Fields {
		ids[f.Name] = f.Id.String()
	}
	return ids
}

func (c *client) listSchemas() (page[schemaInfo], error) {
	var res page[schemaInfo]
	err := c.Get("/schemas").Do(&res)
	return res, err
}

func (c *client) createSchema(body map[string]interface{}) (schemaInfo, error) {
	var res schemaInfo
	err := c.Post("/schemas").Json(body).Do(&res)
	return res, err
}

type datasetInfo struct {
	Id            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	SchemaId      uuid.UUID `json:"schema_id"`
	RowsCount     int64     `json:"rows_count"`
	ReviewedCount int64     `json:"reviewed_count"`
	PendingCount  int64     `json:"pending_count"`
}

func (c *client) createDataset(name string, schemaId uuid.UUID) (datasetInfo, error) {
	var res datasetInfo
	err := c.Post("/datasets").Json(map[string]interface{}{"name": name, "schema_id": schemaId}).Do(&res)
	return res, err
}

func (c *client) getDataset(datasetId uuid.UUID) (datasetInfo, error) {
	var res datasetInfo
	err := c.Get(fmt.Sprintf("/datasets/%v", datasetId)).Do(&res)
	return res, err
}

type rowInfo struct {
	Id             uuid.UUID              `json:"id"`
	ImageUrl       string                 `json:"image_url"`
	Stored         bool                   `json:"stored"`
	Data           map[string]interface{} `json:"data"`
	Status         string                 `json:"status"`
	CreatedByEmail *string                `json:"created_by_email"`
}

func rowsUrl(datasetId uuid.UUID) string {
	return fmt.Sprintf("/datasets/%v/rows", datasetId)
}

func (c *client) createRow(datasetId uuid.UUID, imageUrl string, data map[string]interface{}) (rowInfo, error) {
	var res rowInfo
	err := c.Post(rowsUrl(datasetId)).Json(map[string]interface{}{"image_url": imageUrl, "data": data}).Do(&res)
	return res, err
}

func (c *client) updateRow(datasetId, rowId uuid.UUID, update map[string]interface{}) (rowInfo, error) {
	var res rowInfo
	err := c.Put(fmt.Sprintf("%v/%v", rowsUrl(datasetId), rowId)).Json(update).Do(&res)
	return res, err
}

func (c *client) listRows(datasetId uuid.UUID, query string) (page[rowInfo], error) {
	var res page[rowInfo]
	err := c.Get(rowsUrl(datasetId) + query).Do(&res)
	return res, err
}

func (c *client) uploadImage(datasetId uuid.UUID, image []byte, data map[string]interface{}, sourceUrl string) (rowInfo, error) {
	body := new(bytes.Buffer)
	form := multipart.NewWriter(body)

	file, err := form.CreateFormFile("file", "upload.png")
	if err != nil {
		return rowInfo{}, err
	}
	if _, err := file.Write(image); err != nil {
		return rowInfo{}, err
	}

	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return rowInfo{}, err
		}
		if err := form.WriteField("data", string(encoded)); err != nil {
			return rowInfo{}, err
		}
	}
	if sourceUrl != "" {
		if err := form.WriteField("source_url", sourceUrl); err != nil {
			return rowInfo{}, err
		}
	}
	if err := form.Close(); err != nil {
		return rowInfo{}, err
	}

	var res rowInfo
	err = c.Post(rowsUrl(datasetId)+"/upload").Body(body, form.FormDataContentType()).Do(&res)
	return res, err
}

type importResult struct {
	Imported          int      `json:"imported"`
	SkippedDuplicates int      `json:"skipped_duplicates"`
	SkippedInvalid    int      `json:"skipped_invalid"`
	Errors            []string `json:"errors"`
}

func (c *client) importCSV(datasetId uuid.UUID, content string, mapping map[string]string) (importResult, error) {
	var res importResult
	err := c.Post(rowsUrl(datasetId) + "/import").Json(map[string]interface{}{
		"file_content":   content,
		"column_mapping": mapping,
	}).Do(&res)
	return res, err
}

type apiKeyCreated struct {
	Id      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Preview string    `json:"preview"`
	Key     string    `json:"key"`
}

func (c *client) createAPIKey(name string) (apiKeyCreated, error) {
	var res apiKeyCreated
	err := c.Post("/api-keys").Json(map[string]string{"name": name}).Do(&res)
	return res, err
}
