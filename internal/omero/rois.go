package omero

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/imcf/image-tools/internal/roi"
)

type roiListResponse struct {
	Data []roi.ROI `json:"data"`
	Meta listMeta  `json:"meta"`
}

type persistRequest struct {
	ImageID int64          `json:"imageId"`
	ROIs    persistChanges `json:"rois"`
}

type persistChanges struct {
	Count         int                      `json:"count"`
	New           []map[string]interface{} `json:"new"`
	NewAndDeleted []interface{}            `json:"new_and_deleted"`
	Deleted       map[string]interface{}   `json:"deleted"`
	Modified      []interface{}            `json:"modified"`
	EmptyROIs     map[string][]interface{} `json:"empty_rois"`
}

type persistResponse struct {
	IDs   map[string]string `json:"ids"`
	Error string            `json:"error"`
}

// ROIs returns the regions of interest of image imageID.
func (c *Client) ROIs(ctx context.Context, imageID int64) ([]roi.ROI, error) {
	var out []roi.ROI
	for offset := 0; ; offset += pageSize {
		var page roiListResponse
		query := map[string]string{
			"image":  strconv.FormatInt(imageID, 10),
			"limit":  strconv.Itoa(pageSize),
			"offset": strconv.Itoa(offset),
		}
		if err := c.getJSON(ctx, "/api/v0/m/rois/", query, &page); err != nil {
			return nil, fmt.Errorf("image %d: failed to list ROIs: %w", imageID, err)
		}
		out = append(out, page.Data...)
		if len(page.Data) < pageSize || len(out) >= page.Meta.TotalCount {
			return out, nil
		}
	}
}

// SaveROIs stores rois on image imageID and returns the IDs the server
// assigned to them. ROI names are not stored by the server.
func (c *Client) SaveROIs(ctx context.Context, imageID int64, rois []roi.ROI) ([]int64, error) {
	if !c.open {
		return nil, ErrNotConnected
	}

	req := persistRequest{
		ImageID: imageID,
		ROIs: persistChanges{
			New:           []map[string]interface{}{},
			NewAndDeleted: []interface{}{},
			Deleted:       map[string]interface{}{},
			Modified:      []interface{}{},
			EmptyROIs:     map[string][]interface{}{},
		},
	}
	for i, r := range rois {
		for j, s := range r.Shapes {
			shape, err := shapeMap(s)
			if err != nil {
				return nil, fmt.Errorf("ROI %d shape %d: %w", i+1, j+1, err)
			}
			// Shapes sharing the negative ROI part of oldId end up in one ROI.
			shape["oldId"] = fmt.Sprintf("-%d:-%d", i+1, j+1)
			req.ROIs.New = append(req.ROIs.New, shape)
		}
	}
	req.ROIs.Count = len(req.ROIs.New)
	if req.ROIs.Count == 0 {
		return nil, nil
	}

	var out persistResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		SetError(&errorResponse{}).
		Post("/iviewer/persist_rois/")
	if err != nil {
		return nil, fmt.Errorf("image %d: failed to save ROIs: %w", imageID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("image %d: failed to save ROIs: %w", imageID, responseError(resp))
	}
	if out.Error != "" {
		return nil, fmt.Errorf("image %d: failed to save ROIs: %s", imageID, out.Error)
	}

	ids, err := roiIDs(out.IDs)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", imageID, err)
	}
	c.log.Info().Int64("image", imageID).Int("rois", len(ids)).Msg("ROIs saved")
	return ids, nil
}

func shapeMap(s roi.Shape) (map[string]interface{}, error) {
	s.ID = 0
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// roiIDs extracts the sorted, distinct ROI IDs from "roi:shape" values.
func roiIDs(ids map[string]string) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	for _, v := range ids {
		roiPart, _, _ := strings.Cut(v, ":")
		id, err := strconv.ParseInt(roiPart, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ROI id %q: %w", v, err)
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
