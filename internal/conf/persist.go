package conf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/wilfranr/control-id-miid/internal/errors"
)

// PersistActiveEnvironment rewrites the top level "environment" key of the
// config file. Comments and the order of the other keys are kept.
func PersistActiveEnvironment(configPath, name string) error {
	if configPath == "" {
		return errors.Newf("no config file to persist the active environment to").
			Category(errors.CategoryConfiguration).
			Build()
	}

	data, err := os.ReadFile(configPath) //nolint:gosec // path comes from the loaded settings
	if err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("path", configPath).
			Build()
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileParsing).
			Context("path", configPath).
			Build()
	}

	if err := setTopLevelScalar(&doc, "environment", NormalizeEnvironmentName(name)); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	return writeFileAtomic(configPath, buf.Bytes())
}

func setTopLevelScalar(doc *yaml.Node, key, value string) error {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return errors.Newf("config root is not a mapping").
			Category(errors.CategoryFileParsing).
			Build()
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			root.Content[i+1].Kind = yaml.ScalarNode
			root.Content[i+1].Tag = "!!str"
			root.Content[i+1].Value = value
			return nil
		}
	}

	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value})
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it over path
func writeFileAtomic(path string, data []byte) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer func() { _ = os.Remove(tempFileName) }()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tempFileName, info.Mode().Perm())
	}

	if err := os.Rename(tempFileName, path); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}
