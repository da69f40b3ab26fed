package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/strasdat/vslam/internal/msg"
	"github.com/strasdat/vslam/internal/stream"
)

// datasetCalibration is the calibration.json schema for replay datasets.
type datasetCalibration struct {
	Left  datasetCamera `json:"left"`
	Right datasetCamera `json:"right"`
}

type datasetCamera struct {
	Width  int         `json:"width"`
	Height int         `json:"height"`
	K      [9]float64  `json:"k"`
	P      [12]float64 `json:"p"`
}

func (c datasetCamera) toInfo(stamp time.Time, seq uint32, frameID string) msg.CameraInfo {
	return msg.CameraInfo{
		Time:    stamp,
		Seq:     seq,
		FrameID: frameID,
		Width:   c.Width,
		Height:  c.Height,
		K:       c.K,
		P:       c.P,
	}
}

// replayDataset feeds a recorded dataset directory through the synchronizer
// at the given frame interval. Expected layout: calibration.json, paired
// left_NNNNNN.png / right_NNNNNN.png frames, and optional cloud_NNNNNN.csv
// files (one "x,y,z" line per point).
func replayDataset(ctx context.Context, dir string, interval time.Duration, syncer *stream.Synchronizer) error {
	calib, err := loadDatasetCalibration(filepath.Join(dir, "calibration.json"))
	if err != nil {
		return err
	}

	lefts, err := filepath.Glob(filepath.Join(dir, "left_*.png"))
	if err != nil {
		return err
	}
	if len(lefts) == 0 {
		return fmt.Errorf("no left_*.png frames in %s", dir)
	}
	sort.Strings(lefts)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	base := time.Now()
	for i, leftPath := range lefts {
		rightPath := filepath.Join(dir, "right_"+strings.TrimPrefix(filepath.Base(leftPath), "left_"))
		stamp := base.Add(time.Duration(i) * interval)
		seq := uint32(i)

		leftImg, err := loadPNGImage(leftPath, stamp, seq, "stereo_left")
		if err != nil {
			return err
		}
		rightImg, err := loadPNGImage(rightPath, stamp, seq, "stereo_right")
		if err != nil {
			return err
		}

		cloudPath := filepath.Join(dir, "cloud_"+strings.TrimSuffix(strings.TrimPrefix(filepath.Base(leftPath), "left_"), ".png")+".csv")
		cloud, err := loadCloudCSV(cloudPath, stamp, seq)
		if err != nil {
			return err
		}

		syncer.AddLeftImage(leftImg)
		syncer.AddLeftInfo(calib.Left.toInfo(stamp, seq, "stereo_left"))
		syncer.AddRightImage(rightImg)
		syncer.AddRightInfo(calib.Right.toInfo(stamp, seq, "stereo_right"))
		syncer.AddCloud(cloud)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func loadDatasetCalibration(path string) (*datasetCalibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration: %w", err)
	}
	calib := &datasetCalibration{}
	if err := json.Unmarshal(data, calib); err != nil {
		return nil, fmt.Errorf("failed to parse calibration: %w", err)
	}
	return calib, nil
}

func loadPNGImage(path string, stamp time.Time, seq uint32, frameID string) (msg.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return msg.Image{}, fmt.Errorf("failed to read frame: %w", err)
	}
	return msg.Image{
		Time:     stamp,
		Seq:      seq,
		FrameID:  frameID,
		Encoding: msg.EncodingPNG,
		Data:     data,
	}, nil
}

// loadCloudCSV reads one point per line as "x,y,z". A missing file yields an
// empty cloud so image-only datasets still replay.
func loadCloudCSV(path string, stamp time.Time, seq uint32) (msg.PointCloud, error) {
	cloud := msg.PointCloud{Time: stamp, Seq: seq, FrameID: "stereo_left"}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cloud, nil
		}
		return cloud, fmt.Errorf("failed to open cloud: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, ",")
		if len(fields) != 3 {
			return cloud, fmt.Errorf("%s:%d: expected 3 fields, got %d", path, line, len(fields))
		}
		var xyz [3]float64
		for i, field := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return cloud, fmt.Errorf("%s:%d: %w", path, line, err)
			}
			xyz[i] = v
		}
		cloud.Points = append(cloud.Points, msg.Point{
			X: float32(xyz[0]), Y: float32(xyz[1]), Z: float32(xyz[2]),
		})
	}
	if err := scanner.Err(); err != nil {
		return cloud, fmt.Errorf("failed to read cloud: %w", err)
	}
	return cloud, nil
}
