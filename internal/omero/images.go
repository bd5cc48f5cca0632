package omero

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"github.com/imcf/image-tools/internal/imaging"
)

// pageSize is the number of objects requested per page of a listing.
const pageSize = 200

// ImageInfo is the metadata of one image.
type ImageInfo struct {
	ID         int64         `json:"id"`
	Meta       ImageMeta     `json:"meta"`
	Size       ImageSize     `json:"size"`
	PixelRange [2]float64    `json:"pixel_range"`
	PixelSize  PixelSize     `json:"pixel_size"`
	Channels   []ChannelInfo `json:"channels"`
}

type ImageMeta struct {
	ImageName  string `json:"imageName"`
	DatasetID  int64  `json:"datasetId"`
	PixelsType string `json:"pixelsType"`
}

type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Z      int `json:"z"`
	T      int `json:"t"`
	C      int `json:"c"`
}

// PixelSize is given in microns. Missing values are zero.
type PixelSize struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type ChannelInfo struct {
	Label  string `json:"label"`
	Color  string `json:"color"`
	Window struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"window"`
}

// Dataset is a container of images.
type Dataset struct {
	ID          int64  `json:"@id"`
	Name        string `json:"Name"`
	Description string `json:"Description"`
}

type datasetResponse struct {
	Data Dataset `json:"data"`
}

type listMeta struct {
	TotalCount int `json:"totalCount"`
}

type imageListResponse struct {
	Data []struct {
		ID int64 `json:"@id"`
	} `json:"data"`
	Meta listMeta `json:"meta"`
}

func groupQuery(groupID int64) map[string]string {
	if groupID < 0 {
		return nil
	}
	return map[string]string{"group": strconv.FormatInt(groupID, 10)}
}

// ImageMetadata returns the dimensions, pixel type and channels of image id.
func (c *Client) ImageMetadata(ctx context.Context, id, groupID int64) (*ImageInfo, error) {
	var info ImageInfo
	if err := c.getJSON(ctx, fmt.Sprintf("/webgateway/imgData/%d/", id), groupQuery(groupID), &info); err != nil {
		return nil, fmt.Errorf("image %d: %w", id, err)
	}
	return &info, nil
}

// FetchImage downloads image id as a stack. groupID -1 uses the session's
// current group.
//
// Planes are rendered by the server as 8-bit greyscale with each channel's
// window set to the full pixel range, so 8-bit images arrive unchanged and
// deeper images are scaled linearly into 0-255.
func (c *Client) FetchImage(ctx context.Context, id, groupID int64) (*imaging.Stack, error) {
	info, err := c.ImageMetadata(ctx, id, groupID)
	if err != nil {
		return nil, err
	}
	sz := info.Size
	if sz.C == 0 || sz.Z == 0 || sz.T == 0 {
		return nil, fmt.Errorf("image %d has empty dimensions %+v", id, sz)
	}

	imgs := make([]image.Image, 0, sz.C*sz.Z*sz.T)
	for t := 0; t < sz.T; t++ {
		for z := 0; z < sz.Z; z++ {
			for ch := 1; ch <= sz.C; ch++ {
				img, err := c.renderPlane(ctx, info, ch, z, t, groupID)
				if err != nil {
					return nil, err
				}
				imgs = append(imgs, img)
			}
		}
	}

	title := info.Meta.ImageName
	if title == "" {
		title = fmt.Sprintf("image-%d", id)
	}
	s, err := imaging.FromImages(title, imgs, sz.C, sz.Z, sz.T)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", id, err)
	}
	s.Calibration = imaging.Calibration{
		PixelWidth:  info.PixelSize.X,
		PixelHeight: info.PixelSize.Y,
		VoxelDepth:  info.PixelSize.Z,
		Unit:        "micron",
	}
	dims := s.Dimensions()
	c.log.Info().Int64("image", id).Str("title", title).Ints("dims", dims[:]).Msg("image fetched")
	return s, nil
}

// renderPlane fetches one plane with only channel ch active. z and t are
// 0-based as the rendering endpoint expects.
func (c *Client) renderPlane(ctx context.Context, info *ImageInfo, ch, z, t int, groupID int64) (image.Image, error) {
	lo, hi := info.PixelRange[0], info.PixelRange[1]
	if ch-1 < len(info.Channels) {
		if w := info.Channels[ch-1].Window; w.Max > w.Min {
			lo, hi = w.Min, w.Max
		}
	}

	active := make([]string, info.Size.C)
	for i := range active {
		if i+1 == ch {
			active[i] = fmt.Sprintf("%d|%s:%s$FFFFFF", i+1, formatLevel(lo), formatLevel(hi))
		} else {
			active[i] = "-" + strconv.Itoa(i+1)
		}
	}

	query := map[string]string{
		"c":      strings.Join(active, ","),
		"m":      "g",
		"format": "png",
	}
	for k, v := range groupQuery(groupID) {
		query[k] = v
	}

	if !c.open {
		return nil, ErrNotConnected
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeader("Accept", "image/png").
		Get(fmt.Sprintf("/webgateway/render_image/%d/%d/%d/", info.ID, z, t))
	if err != nil {
		return nil, fmt.Errorf("plane c=%d z=%d t=%d: %w", ch, z, t, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("plane c=%d z=%d t=%d: %w", ch, z, t, responseError(resp))
	}

	img, _, err := image.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("plane c=%d z=%d t=%d: failed to decode: %w", ch, z, t, err)
	}
	return img, nil
}

func formatLevel(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FindDataset returns dataset id.
func (c *Client) FindDataset(ctx context.Context, id int64) (*Dataset, error) {
	var resp datasetResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/api/v0/m/datasets/%d/", id), nil, &resp); err != nil {
		return nil, fmt.Errorf("dataset %d: %w", id, err)
	}
	return &resp.Data, nil
}

// DatasetImageIDs lists the IDs of all images in dataset id.
func (c *Client) DatasetImageIDs(ctx context.Context, id int64) ([]int64, error) {
	var ids []int64
	for offset := 0; ; offset += pageSize {
		var page imageListResponse
		query := map[string]string{
			"limit":  strconv.Itoa(pageSize),
			"offset": strconv.Itoa(offset),
		}
		if err := c.getJSON(ctx, fmt.Sprintf("/api/v0/m/datasets/%d/images/", id), query, &page); err != nil {
			return nil, fmt.Errorf("dataset %d images: %w", id, err)
		}
		for _, img := range page.Data {
			ids = append(ids, img.ID)
		}
		if len(page.Data) < pageSize || len(ids) >= page.Meta.TotalCount {
			return ids, nil
		}
	}
}

// ResolveImageIDs expands the datasets in t into their images and returns
// them after t's own image IDs, without duplicates.
func (c *Client) ResolveImageIDs(ctx context.Context, t Targets) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	add := func(ids ...int64) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}

	add(t.ImageIDs...)
	for _, d := range t.DatasetIDs {
		ids, err := c.DatasetImageIDs(ctx, d)
		if err != nil {
			return nil, err
		}
		add(ids...)
	}
	return out, nil
}
