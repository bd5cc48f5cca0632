package omero

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// maxStderr is how much importer stderr is kept in error messages.
const maxStderr = 2000

// UploadImage imports the file at path into dataset datasetID with the
// command-line importer, reusing this client's session, and returns the IDs
// of the created images.
func (c *Client) UploadImage(ctx context.Context, path string, datasetID int64) ([]int64, error) {
	if !c.open {
		return nil, ErrNotConnected
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("cannot upload %s: %w", path, err)
	}
	if _, err := c.FindDataset(ctx, datasetID); err != nil {
		return nil, err
	}

	u, err := url.Parse(BaseURL(c.cfg))
	if err != nil {
		return nil, fmt.Errorf("invalid OMERO host %q: %w", c.cfg.Host, err)
	}
	args := []string{
		"import",
		"-s", u.Hostname(),
		"-p", strconv.Itoa(c.cfg.Port),
		"-k", c.session.SessionUUID,
		"-d", strconv.FormatInt(datasetID, 10),
		"--no-upgrade-check",
		path,
	}

	importer := c.cfg.ImporterPath
	if importer == "" {
		importer = "omero"
	}
	cmd := exec.CommandContext(ctx, importer, args...)
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	c.log.Info().Str("file", path).Int64("dataset", datasetID).Msg("importing image")
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > maxStderr {
			msg = msg[len(msg)-maxStderr:]
		}
		return nil, fmt.Errorf("import of %s failed: %w: %s", path, err, msg)
	}

	ids, err := parseImportOutput(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("import of %s: %w", path, err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("import of %s reported no images", path)
	}
	c.log.Info().Str("file", path).Int("images", len(ids)).Msg("import finished")
	return ids, nil
}

// parseImportOutput collects the IDs of "Image:1,2,3" lines.
func parseImportOutput(out string) ([]int64, error) {
	var ids []int64
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		rest, ok := strings.CutPrefix(line, "Image:")
		if !ok {
			continue
		}
		for _, s := range strings.Split(rest, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid image id in %q: %w", line, err)
			}
			ids = append(ids, id)
		}
	}
	return ids, sc.Err()
}
