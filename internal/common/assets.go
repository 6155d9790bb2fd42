package common

import (
	"fmt"
	"os"
	"path/filepath"

	"tiltvault-clearing-go/internal/models"

	"gopkg.in/yaml.v2"
)

type AssetsConfig struct {
	Assets []models.AssetConfig `yaml:"assets"`
}

func LoadAssetConfig(assetsFile string) ([]models.AssetConfig, error) {
	var assetsPath string
	if filepath.IsAbs(assetsFile) {
		assetsPath = assetsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, assetsFile)
	}

	data, err := os.ReadFile(assetsPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", assetsFile, err)
	}

	var config AssetsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", assetsFile, err)
	}

	for i, asset := range config.Assets {
		if asset.Symbol == "" {
			return nil, fmt.Errorf("asset at index %d missing symbol", i)
		}
		if asset.Decimals <= 0 {
			return nil, fmt.Errorf("asset %s has no decimals", asset.Symbol)
		}
		if !asset.Native && asset.Address == "" {
			return nil, fmt.Errorf("asset %s is not native but has no contract address", asset.Symbol)
		}
	}

	return config.Assets, nil
}
