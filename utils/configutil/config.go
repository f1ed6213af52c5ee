// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package configutil loads YAML configuration files with an "extends"
// chain: a config may name a base file (relative to its own directory
// unless absolute) whose fields it overrides. Load resolves the full
// chain, merges base-to-derived, and validates the result exactly once.
package configutil

import (
	"errors"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/imdario/mergo"
	"gopkg.in/validator.v2"
	"gopkg.in/yaml.v2"
)

// ErrCycleRef is returned when a config's extends chain refers back to
// itself.
var ErrCycleRef = errors.New("cyclic reference in configuration extends detected")

// ValidationError wraps a validator.v2 error map with field-level lookup.
type ValidationError struct {
	errs validator.ErrorMap
}

func (e ValidationError) Error() string {
	var parts []string
	for field, errs := range e.errs {
		parts = append(parts, fmt.Sprintf("%s: %s", field, errs))
	}
	return strings.Join(parts, "; ")
}

// ErrForField returns the validation errors for field, or nil if field
// passed validation.
func (e ValidationError) ErrForField(field string) validator.ErrorArray {
	return e.errs[field]
}

type extendsStub struct {
	Extends string `yaml:"extends"`
}

// resolveExtends walks fpath's extends chain via readExtends (which reads
// a file's raw "extends" field, or "" if absent) and returns the chain of
// filenames from the root-most base to fpath itself. extends paths are
// resolved relative to the directory of the file that names them.
func resolveExtends(fpath string, readExtends func(string) (string, error)) ([]string, error) {
	seen := map[string]bool{fpath: true}
	chain := []string{fpath}

	cur := fpath
	for {
		ext, err := readExtends(cur)
		if err != nil {
			return nil, err
		}
		if ext == "" {
			break
		}
		if !filepath.IsAbs(ext) {
			ext = filepath.Join(filepath.Dir(cur), ext)
		}
		if seen[ext] {
			return nil, ErrCycleRef
		}
		seen[ext] = true
		chain = append([]string{ext}, chain...)
		cur = ext
	}
	return chain, nil
}

func readExtendsField(fpath string) (string, error) {
	data, err := ioutil.ReadFile(fpath)
	if err != nil {
		return "", fmt.Errorf("read %s: %s", fpath, err)
	}
	var stub extendsStub
	if err := yaml.Unmarshal(data, &stub); err != nil {
		return "", fmt.Errorf("unmarshal %s: %s", fpath, err)
	}
	return stub.Extends, nil
}

// loadFiles merges the YAML files named in fpaths, in order, into config
// and validates the merged result once. Later files override fields set
// by earlier files.
func loadFiles(config interface{}, fpaths []string) error {
	t := reflect.TypeOf(config)
	if t.Kind() != reflect.Ptr {
		return fmt.Errorf("config must be a pointer, got %s", t.Kind())
	}

	for _, fpath := range fpaths {
		data, err := ioutil.ReadFile(fpath)
		if err != nil {
			return fmt.Errorf("read %s: %s", fpath, err)
		}
		layer := reflect.New(t.Elem()).Interface()
		if err := yaml.Unmarshal(data, layer); err != nil {
			return fmt.Errorf("unmarshal %s: %s", fpath, err)
		}
		if err := mergo.Merge(config, layer, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge %s: %s", fpath, err)
		}
	}

	if errs := validator.Validate(config); errs != nil {
		if verrs, ok := errs.(validator.ErrorMap); ok {
			return ValidationError{errs: verrs}
		}
		return errs
	}
	return nil
}

// Load reads fpath and its full extends chain into config, then validates
// the merged result.
func Load(fpath string, config interface{}) error {
	chain, err := resolveExtends(fpath, readExtendsField)
	if err != nil {
		return err
	}
	return loadFiles(config, chain)
}
