package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/lima-vm/go-qcow2reader"
	_ "github.com/lima-vm/go-qcow2reader/image/qcow2"
	_ "github.com/lima-vm/go-qcow2reader/image/raw"

	"github.com/cuemby/hyperctl/pkg/types"
)

// NFSDriver implements Driver on top of a shared NFS mount, shelling out to
// qemu-img to create, convert, resize and snapshot qcow2 images; deletes and
// raw-volume snapshots are plain file operations. File paths are always
// {mount_path}/{volume_id}.{qcow2|raw}.
type NFSDriver struct {
	mountPath string
}

// NewNFSDriver constructs a driver rooted at mountPath (the StoragePool's
// config["mount_path"]).
func NewNFSDriver(mountPath string) *NFSDriver {
	return &NFSDriver{mountPath: mountPath}
}

func (d *NFSDriver) pathFor(volumeID string, format types.VolumeKind) string {
	return filepath.Join(d.mountPath, fmt.Sprintf("%s.%s", volumeID, format))
}

// resolveExisting tries every known extension for volumeID and returns the
// first path that exists on disk, used by operations that only know the
// volume id (delete, resize, get_info).
func (d *NFSDriver) resolveExisting(volumeID string) (string, types.VolumeKind, bool) {
	for _, kind := range []types.VolumeKind{types.VolumeKindQcow2, types.VolumeKindRaw} {
		p := d.pathFor(volumeID, kind)
		if _, err := os.Stat(p); err == nil {
			return p, kind, true
		}
	}
	return "", "", false
}

// CreateVolume creates {mount_path}/{volume_id}.{format}, refusing if the
// file already exists. When sourceURL is set, it downloads the image,
// detects its actual format, converts to the requested format, and resizes
// to sizeGB, per the create(source?) sequence.
func (d *NFSDriver) CreateVolume(ctx context.Context, volumeID string, sizeGB int, format types.VolumeKind, sourceURL string) (string, error) {
	path := d.pathFor(volumeID, format)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("volume already exists: %s", path)
	}

	if sourceURL == "" {
		if err := runQemuImg(ctx, "create", "-f", string(format), path, fmt.Sprintf("%dG", sizeGB)); err != nil {
			return "", fmt.Errorf("qemu-img create: %w", err)
		}
		return path, nil
	}

	tmpPath := path + ".tmp"
	if err := runCmd(ctx, "curl", "-L", "-o", tmpPath, sourceURL); err != nil {
		return "", fmt.Errorf("downloading source image: %w", err)
	}
	defer os.Remove(tmpPath)

	sourceFormat, err := detectFormat(ctx, tmpPath)
	if err != nil {
		return "", fmt.Errorf("detecting downloaded image format: %w", err)
	}

	if sourceFormat == string(format) {
		if err := os.Rename(tmpPath, path); err != nil {
			return "", fmt.Errorf("moving downloaded image into place: %w", err)
		}
	} else {
		convertArgs := []string{"convert", "-f", sourceFormat, "-O", string(format)}
		if format == types.VolumeKindQcow2 {
			convertArgs = append(convertArgs, "-o", "preallocation=metadata")
		}
		convertArgs = append(convertArgs, tmpPath, path)
		if err := runQemuImg(ctx, convertArgs...); err != nil {
			return "", fmt.Errorf("qemu-img convert: %w", err)
		}
	}

	if err := runQemuImg(ctx, "resize", path, fmt.Sprintf("%dG", sizeGB)); err != nil {
		return "", fmt.Errorf("qemu-img resize after import: %w", err)
	}
	return path, nil
}

// DeleteVolume tries each known extension until one resolves.
func (d *NFSDriver) DeleteVolume(ctx context.Context, volumeID string) error {
	path, _, found := d.resolveExisting(volumeID)
	if !found {
		return fmt.Errorf("volume not found: %s", volumeID)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting volume file: %w", err)
	}
	return nil
}

// ResizeVolume resizes the underlying file with qemu-img resize; it does
// not re-query the volume's info afterwards.
func (d *NFSDriver) ResizeVolume(ctx context.Context, volumeID string, sizeGB int) error {
	path, _, found := d.resolveExisting(volumeID)
	if !found {
		return fmt.Errorf("volume not found: %s", volumeID)
	}
	if err := runQemuImg(ctx, "resize", path, fmt.Sprintf("%dG", sizeGB)); err != nil {
		return fmt.Errorf("qemu-img resize: %w", err)
	}
	return nil
}

// GetVolumeInfo stats the volume file. For qcow2 it first tries
// go-qcow2reader's header parse as a fast local path before falling back to
// `qemu-img info --output=json`; for raw it uses the file length directly.
func (d *NFSDriver) GetVolumeInfo(ctx context.Context, volumeID string) (*VolumeInfo, error) {
	path, format, found := d.resolveExisting(volumeID)
	if !found {
		return nil, fmt.Errorf("volume not found: %s", volumeID)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat volume file: %w", err)
	}

	info := &VolumeInfo{
		VolumeID:   volumeID,
		Path:       path,
		Format:     format,
		ActualSize: stat.Size(),
	}

	if format == types.VolumeKindRaw {
		info.VirtualSize = stat.Size()
		return info, nil
	}

	if vsize, err := readQcow2VirtualSize(path); err == nil {
		info.VirtualSize = vsize
		return info, nil
	}

	vsize, err := qemuImgVirtualSize(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("qemu-img info: %w", err)
	}
	info.VirtualSize = vsize
	return info, nil
}

// ListVolumes enumerates every volume file this driver's mount path knows
// about by re-resolving GetVolumeInfo for each directory entry.
func (d *NFSDriver) ListVolumes(ctx context.Context) ([]*VolumeInfo, error) {
	entries, err := os.ReadDir(d.mountPath)
	if err != nil {
		return nil, fmt.Errorf("listing mount path: %w", err)
	}
	var out []*VolumeInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".qcow2" && ext != ".raw" {
			continue
		}
		volumeID := e.Name()[:len(e.Name())-len(ext)]
		info, err := d.GetVolumeInfo(ctx, volumeID)
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// CreateSnapshot implements the snapshot rule: qcow2 uses an internal
// `qemu-img snapshot -c`; raw falls back to a full file copy to
// {volume_id}-{snapshot_name}.raw (O(size) cost, no throttling in this
// core — see DESIGN.md's open-question resolution).
func (d *NFSDriver) CreateSnapshot(ctx context.Context, volumeID, snapshotName string) error {
	path, format, found := d.resolveExisting(volumeID)
	if !found {
		return fmt.Errorf("volume not found: %s", volumeID)
	}

	if format == types.VolumeKindQcow2 {
		if err := runQemuImg(ctx, "snapshot", "-c", snapshotName, path); err != nil {
			return fmt.Errorf("qemu-img snapshot -c: %w", err)
		}
		return nil
	}

	dest := filepath.Join(d.mountPath, fmt.Sprintf("%s-%s.raw", volumeID, snapshotName))
	if err := copyFile(path, dest); err != nil {
		return fmt.Errorf("copying raw volume for snapshot: %w", err)
	}
	return nil
}

// CloneVolume copies sourceVolumeID's file into a fresh volume id.
func (d *NFSDriver) CloneVolume(ctx context.Context, sourceVolumeID, newVolumeID string) (string, error) {
	srcPath, format, found := d.resolveExisting(sourceVolumeID)
	if !found {
		return "", fmt.Errorf("volume not found: %s", sourceVolumeID)
	}
	destPath := d.pathFor(newVolumeID, format)
	if err := runQemuImg(ctx, "convert", "-O", string(format), srcPath, destPath); err != nil {
		return "", fmt.Errorf("qemu-img convert (clone): %w", err)
	}
	return destPath, nil
}

// DeleteSnapshotTag removes a previously created snapshot. This is
// deliberately not part of the Driver capability set (the "small capability
// set" intentionally omits delete/restore-snapshot), so pkg/agent reaches
// this through a type assertion to *NFSDriver — reasonable since NFS is the
// only storage backend in scope.
func (d *NFSDriver) DeleteSnapshotTag(ctx context.Context, volumeID, snapshotTag string) error {
	path, format, found := d.resolveExisting(volumeID)
	if !found {
		return fmt.Errorf("volume not found: %s", volumeID)
	}
	if format == types.VolumeKindQcow2 {
		if err := runQemuImg(ctx, "snapshot", "-d", snapshotTag, path); err != nil {
			return fmt.Errorf("qemu-img snapshot -d: %w", err)
		}
		return nil
	}
	rawSnap := filepath.Join(d.mountPath, fmt.Sprintf("%s-%s.raw", volumeID, snapshotTag))
	if err := os.Remove(rawSnap); err != nil {
		return fmt.Errorf("deleting raw snapshot file: %w", err)
	}
	return nil
}

// RestoreSnapshotTag rolls volumeID back to a previously created snapshot.
func (d *NFSDriver) RestoreSnapshotTag(ctx context.Context, volumeID, snapshotTag string) error {
	path, format, found := d.resolveExisting(volumeID)
	if !found {
		return fmt.Errorf("volume not found: %s", volumeID)
	}
	if format == types.VolumeKindQcow2 {
		if err := runQemuImg(ctx, "snapshot", "-a", snapshotTag, path); err != nil {
			return fmt.Errorf("qemu-img snapshot -a: %w", err)
		}
		return nil
	}
	rawSnap := filepath.Join(d.mountPath, fmt.Sprintf("%s-%s.raw", volumeID, snapshotTag))
	if _, err := os.Stat(rawSnap); err != nil {
		return fmt.Errorf("raw snapshot not found: %s", rawSnap)
	}
	if err := copyFile(rawSnap, path); err != nil {
		return fmt.Errorf("restoring raw volume from snapshot: %w", err)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = out.ReadFrom(in)
	return err
}

func readQcow2VirtualSize(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	img, err := qcow2reader.Open(f)
	if err != nil {
		return 0, fmt.Errorf("parsing qcow2 header: %w", err)
	}
	return img.Size(), nil
}

func detectFormat(ctx context.Context, path string) (string, error) {
	out, err := qemuImgInfoJSON(ctx, path)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return "", fmt.Errorf("parsing qemu-img info output: %w", err)
	}
	return parsed.Format, nil
}

func qemuImgVirtualSize(ctx context.Context, path string) (int64, error) {
	out, err := qemuImgInfoJSON(ctx, path)
	if err != nil {
		return 0, err
	}
	var parsed struct {
		VirtualSize int64 `json:"virtual-size"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("parsing qemu-img info output: %w", err)
	}
	return parsed.VirtualSize, nil
}

func qemuImgInfoJSON(ctx context.Context, path string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "qemu-img", "info", "--output=json", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w (stderr: %s)", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func runQemuImg(ctx context.Context, args ...string) error {
	return runCmd(ctx, "qemu-img", args...)
}

func runCmd(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w (stderr: %s)", err, stderr.String())
	}
	return nil
}
