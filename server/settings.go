package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// CameraConfig holds the capture parameters pushed to a camera device.
// Field names follow the sensor register names the devices expect.
type CameraConfig struct {
	Resolution    string `json:"resolution"`
	Quality       int    `json:"quality"`
	Brightness    int    `json:"brightness"`
	Contrast      int    `json:"contrast"`
	Saturation    int    `json:"saturation"`
	SpecialEffect int    `json:"special_effect"`
	Whitebal      int    `json:"whitebal"`
	AWBGain       int    `json:"awb_gain"`
	WBMode        int    `json:"wb_mode"`
	ExposureCtrl  int    `json:"exposure_ctrl"`
	AEC2          int    `json:"aec2"`
	AELevel       int    `json:"ae_level"`
	AECValue      int    `json:"aec_value"`
	GainCtrl      int    `json:"gain_ctrl"`
	AGCGain       int    `json:"agc_gain"`
	GainCeiling   int    `json:"gainceiling"`
	BPC           int    `json:"bpc"`
	WPC           int    `json:"wpc"`
	RawGMA        int    `json:"raw_gma"`
	Lenc          int    `json:"lenc"`
	HMirror       int    `json:"hmirror"`
	VFlip         int    `json:"vflip"`
}

// MotionConfig holds the motion detection parameters for one camera.
type MotionConfig struct {
	MinArea   int `json:"minArea"`
	Threshold int `json:"threshold"`
	BlurSize  int `json:"blurSize"`
	Dilation  int `json:"dilation"`
	MaxFPS    int `json:"maxFps"`
}

// cameraConfigPatch is a partial capture config; nil fields keep their value.
type cameraConfigPatch struct {
	Resolution    *string `json:"resolution"`
	Quality       *int    `json:"quality"`
	Brightness    *int    `json:"brightness"`
	Contrast      *int    `json:"contrast"`
	Saturation    *int    `json:"saturation"`
	SpecialEffect *int    `json:"special_effect"`
	Whitebal      *int    `json:"whitebal"`
	AWBGain       *int    `json:"awb_gain"`
	WBMode        *int    `json:"wb_mode"`
	ExposureCtrl  *int    `json:"exposure_ctrl"`
	AEC2          *int    `json:"aec2"`
	AELevel       *int    `json:"ae_level"`
	AECValue      *int    `json:"aec_value"`
	GainCtrl      *int    `json:"gain_ctrl"`
	AGCGain       *int    `json:"agc_gain"`
	GainCeiling   *int    `json:"gainceiling"`
	BPC           *int    `json:"bpc"`
	WPC           *int    `json:"wpc"`
	RawGMA        *int    `json:"raw_gma"`
	Lenc          *int    `json:"lenc"`
	HMirror       *int    `json:"hmirror"`
	VFlip         *int    `json:"vflip"`
}

// motionConfigPatch is a partial motion config; nil fields keep their value.
type motionConfigPatch struct {
	MinArea   *int `json:"minArea"`
	Threshold *int `json:"threshold"`
	BlurSize  *int `json:"blurSize"`
	Dilation  *int `json:"dilation"`
	MaxFPS    *int `json:"maxFps"`
}

// settingsDocument is the shape of the persisted settings file.
type settingsDocument struct {
	Motion      MotionConfig            `json:"motion"`
	Cameras     map[string]CameraConfig `json:"cameras"`
	CameraNames map[string]string       `json:"camera_names"`
}

func defaultCameraConfig() CameraConfig {
	return CameraConfig{
		Resolution:   "UXGA",
		Quality:      12,
		Whitebal:     1,
		AWBGain:      1,
		ExposureCtrl: 1,
		AECValue:     300,
		GainCtrl:     1,
		WPC:          1,
		RawGMA:       1,
		Lenc:         1,
	}
}

func defaultMotionConfig() MotionConfig {
	return MotionConfig{
		MinArea:   4000,
		Threshold: 25,
		BlurSize:  31,
		Dilation:  3,
		MaxFPS:    15,
	}
}

// settingsStore owns default and per-camera configuration and the persisted
// settings document. It is the single writer of that document.
type settingsStore struct {
	mu            sync.Mutex
	path          string
	cameraDefault CameraConfig
	motionDefault MotionConfig
	cameras       map[string]*CameraConfig
	motion        map[string]*MotionConfig
}

func newSettingsStore(path string) *settingsStore {
	return &settingsStore{
		path:          path,
		cameraDefault: defaultCameraConfig(),
		motionDefault: defaultMotionConfig(),
		cameras:       make(map[string]*CameraConfig),
		motion:        make(map[string]*MotionConfig),
	}
}

// CameraConfigFor returns the capture config for a camera, materializing a
// copy of the defaults on first access. An empty id returns the defaults.
func (s *settingsStore) CameraConfigFor(id string) CameraConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		return s.cameraDefault
	}
	return *s.cameraConfigLocked(id)
}

// MotionConfigFor returns the motion config for a camera, materializing a
// copy of the defaults on first access. An empty id returns the defaults.
func (s *settingsStore) MotionConfigFor(id string) MotionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		return s.motionDefault
	}
	return *s.motionConfigLocked(id)
}

func (s *settingsStore) cameraConfigLocked(id string) *CameraConfig {
	cfg, ok := s.cameras[id]
	if !ok {
		c := s.cameraDefault
		cfg = &c
		s.cameras[id] = cfg
	}
	return cfg
}

func (s *settingsStore) motionConfigLocked(id string) *MotionConfig {
	cfg, ok := s.motion[id]
	if !ok {
		c := s.motionDefault
		cfg = &c
		s.motion[id] = cfg
	}
	return cfg
}

// ApplyCameraPatch merges the supplied fields into a camera's capture config
// and returns the result. An empty id patches the global defaults.
func (s *settingsStore) ApplyCameraPatch(id string, p *cameraConfigPatch) CameraConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	target := &s.cameraDefault
	if id != "" {
		target = s.cameraConfigLocked(id)
	}
	applyCameraPatch(target, p)
	return *target
}

// ApplyMotionPatch merges the supplied fields into a camera's motion config.
// The patch also lands on the global defaults, which is what the persisted
// document carries, so new cameras inherit the latest tuning.
func (s *settingsStore) ApplyMotionPatch(id string, p *motionConfigPatch) MotionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyMotionPatch(&s.motionDefault, p)
	if id == "" {
		return s.motionDefault
	}
	target := s.motionConfigLocked(id)
	applyMotionPatch(target, p)
	return *target
}

func applyCameraPatch(cfg *CameraConfig, p *cameraConfigPatch) {
	if p == nil {
		return
	}
	if p.Resolution != nil {
		cfg.Resolution = *p.Resolution
	}
	if p.Quality != nil {
		cfg.Quality = *p.Quality
	}
	if p.Brightness != nil {
		cfg.Brightness = *p.Brightness
	}
	if p.Contrast != nil {
		cfg.Contrast = *p.Contrast
	}
	if p.Saturation != nil {
		cfg.Saturation = *p.Saturation
	}
	if p.SpecialEffect != nil {
		cfg.SpecialEffect = *p.SpecialEffect
	}
	if p.Whitebal != nil {
		cfg.Whitebal = *p.Whitebal
	}
	if p.AWBGain != nil {
		cfg.AWBGain = *p.AWBGain
	}
	if p.WBMode != nil {
		cfg.WBMode = *p.WBMode
	}
	if p.ExposureCtrl != nil {
		cfg.ExposureCtrl = *p.ExposureCtrl
	}
	if p.AEC2 != nil {
		cfg.AEC2 = *p.AEC2
	}
	if p.AELevel != nil {
		cfg.AELevel = *p.AELevel
	}
	if p.AECValue != nil {
		cfg.AECValue = *p.AECValue
	}
	if p.GainCtrl != nil {
		cfg.GainCtrl = *p.GainCtrl
	}
	if p.AGCGain != nil {
		cfg.AGCGain = *p.AGCGain
	}
	if p.GainCeiling != nil {
		cfg.GainCeiling = *p.GainCeiling
	}
	if p.BPC != nil {
		cfg.BPC = *p.BPC
	}
	if p.WPC != nil {
		cfg.WPC = *p.WPC
	}
	if p.RawGMA != nil {
		cfg.RawGMA = *p.RawGMA
	}
	if p.Lenc != nil {
		cfg.Lenc = *p.Lenc
	}
	if p.HMirror != nil {
		cfg.HMirror = *p.HMirror
	}
	if p.VFlip != nil {
		cfg.VFlip = *p.VFlip
	}
}

func applyMotionPatch(cfg *MotionConfig, p *motionConfigPatch) {
	if p == nil {
		return
	}
	if p.MinArea != nil {
		cfg.MinArea = *p.MinArea
	}
	if p.Threshold != nil {
		cfg.Threshold = *p.Threshold
	}
	if p.BlurSize != nil {
		cfg.BlurSize = *p.BlurSize
	}
	if p.Dilation != nil {
		cfg.Dilation = *p.Dilation
	}
	if p.MaxFPS != nil {
		cfg.MaxFPS = *p.MaxFPS
	}
}

// KnownCameraIDs lists cameras that have a materialized capture config.
func (s *settingsStore) KnownCameraIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.cameras))
	for id := range s.cameras {
		ids = append(ids, id)
	}
	return ids
}

// Persist writes the settings document, replacing the previous one
// atomically. Display names matching the default "Camera {id}" are omitted.
func (s *settingsStore) Persist(names map[string]string) error {
	s.mu.Lock()
	doc := settingsDocument{
		Motion:      s.motionDefault,
		Cameras:     make(map[string]CameraConfig, len(s.cameras)),
		CameraNames: make(map[string]string),
	}
	for id, cfg := range s.cameras {
		doc.Cameras[id] = *cfg
	}
	s.mu.Unlock()

	for id, name := range names {
		if name != "" && name != defaultCameraName(id) {
			doc.CameraNames[id] = name
		}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*")
	if err != nil {
		return fmt.Errorf("create settings temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close settings temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace settings file: %w", err)
	}
	log.Debug().Str("path", s.path).Msg("settings persisted")
	return nil
}

// Load reads the settings document if present and returns the saved display
// names. A missing file is not an error; defaults apply.
func (s *settingsStore) Load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var doc settingsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}

	s.mu.Lock()
	if doc.Motion != (MotionConfig{}) {
		if doc.Motion.MaxFPS == 0 {
			// documents written before rate governance existed
			doc.Motion.MaxFPS = s.motionDefault.MaxFPS
		}
		s.motionDefault = doc.Motion
	}
	for id, cfg := range doc.Cameras {
		c := cfg
		s.cameras[id] = &c
	}
	s.mu.Unlock()

	log.Info().Str("path", s.path).Int("cameras", len(doc.Cameras)).Msg("settings loaded")
	return doc.CameraNames, nil
}
