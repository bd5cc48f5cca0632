package omero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/imcf/image-tools/internal/results"
)

// MapAnnotation is a list of key-value pairs attached to an object.
type MapAnnotation struct {
	ID          int64       `json:"id"`
	Namespace   string      `json:"ns"`
	Description string      `json:"description"`
	Values      [][2]string `json:"values"`
}

// FileInfo describes the file behind a file annotation.
type FileInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimetype"`
}

// FileAnnotation is a file attached to an object.
type FileAnnotation struct {
	ID        int64    `json:"id"`
	Namespace string   `json:"ns"`
	File      FileInfo `json:"file"`
}

type mapAnnotationList struct {
	Annotations []MapAnnotation `json:"annotations"`
}

type fileAnnotationList struct {
	Annotations []FileAnnotation `json:"annotations"`
}

type annotateResponse struct {
	AnnID int64 `json:"annId"`
}

// PairsFromMap returns the entries of m sorted by key.
func PairsFromMap(m map[string]string) [][2]string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{k, m[k]}
	}
	return pairs
}

// AddKeyValues attaches pairs to image imageID as a new map annotation in
// the web client's namespace, with header as its description. It returns
// the annotation ID.
func (c *Client) AddKeyValues(ctx context.Context, imageID int64, header string, pairs [][2]string) (int64, error) {
	data, err := json.Marshal(pairs)
	if err != nil {
		return 0, fmt.Errorf("failed to encode key-value pairs: %w", err)
	}
	var out annotateResponse
	_, err = c.post(ctx, "/webclient/annotate_map/", map[string]string{
		"image":         strconv.FormatInt(imageID, 10),
		"mapAnnotation": string(data),
		"ns":            NSClientMapAnnotation,
		"description":   header,
	}, &out)
	if err != nil {
		return 0, fmt.Errorf("image %d: failed to add key-value pairs: %w", imageID, err)
	}
	c.log.Debug().Int64("image", imageID).Int64("annotation", out.AnnID).Int("pairs", len(pairs)).Msg("key-value pairs added")
	return out.AnnID, nil
}

// KeyValues returns the map annotations of image imageID.
func (c *Client) KeyValues(ctx context.Context, imageID int64) ([]MapAnnotation, error) {
	var list mapAnnotationList
	query := map[string]string{"type": "map", "image": strconv.FormatInt(imageID, 10)}
	if err := c.getJSON(ctx, "/webclient/api/annotations/", query, &list); err != nil {
		return nil, fmt.Errorf("image %d: failed to list key-value pairs: %w", imageID, err)
	}
	return list.Annotations, nil
}

// DeleteKeyValues removes the map annotations of image imageID in namespace
// ns (the web client's namespace when empty) and returns how many were
// removed.
func (c *Client) DeleteKeyValues(ctx context.Context, imageID int64, ns string) (int, error) {
	if ns == "" {
		ns = NSClientMapAnnotation
	}
	anns, err := c.KeyValues(ctx, imageID)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, a := range anns {
		if a.Namespace != ns {
			continue
		}
		// Saving an empty list deletes the annotation.
		_, err := c.post(ctx, "/webclient/annotate_map/", map[string]string{
			"image":         strconv.FormatInt(imageID, 10),
			"annId":         strconv.FormatInt(a.ID, 10),
			"mapAnnotation": "[]",
		}, nil)
		if err != nil {
			return n, fmt.Errorf("failed to delete annotation %d: %w", a.ID, err)
		}
		n++
	}
	return n, nil
}

// UploadTable attaches t to image imageID as a CSV file annotation named
// name.csv.
func (c *Client) UploadTable(ctx context.Context, imageID int64, name string, t *results.Table) error {
	if !c.open {
		return ErrNotConnected
	}
	var buf bytes.Buffer
	if err := t.WriteCSV(&buf); err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"image": strconv.FormatInt(imageID, 10)}).
		SetFileReader("annotation_file", name+".csv", &buf).
		SetError(&errorResponse{}).
		Post("/webclient/annotate_file/")
	if err != nil {
		return fmt.Errorf("image %d: failed to upload table: %w", imageID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("image %d: failed to upload table: %w", imageID, responseError(resp))
	}
	c.log.Info().Int64("image", imageID).Str("table", name).Int("rows", t.Len()).Msg("table uploaded")
	return nil
}

// Tables lists the file annotations of image imageID.
func (c *Client) Tables(ctx context.Context, imageID int64) ([]FileAnnotation, error) {
	var list fileAnnotationList
	query := map[string]string{"type": "file", "image": strconv.FormatInt(imageID, 10)}
	if err := c.getJSON(ctx, "/webclient/api/annotations/", query, &list); err != nil {
		return nil, fmt.Errorf("image %d: failed to list tables: %w", imageID, err)
	}
	return list.Annotations, nil
}

// Table downloads file annotation annID and parses it as CSV.
func (c *Client) Table(ctx context.Context, annID int64) (*results.Table, error) {
	if !c.open {
		return nil, ErrNotConnected
	}
	resp, err := c.http.R().SetContext(ctx).Get(fmt.Sprintf("/webclient/annotation/%d/", annID))
	if err != nil {
		return nil, fmt.Errorf("annotation %d: %w", annID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("annotation %d: %w", annID, responseError(resp))
	}
	t, err := results.ReadCSV(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("annotation %d: %w", annID, err)
	}
	return t, nil
}
