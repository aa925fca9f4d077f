/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package viperutil

import (
	"os"
	"reflect"
	"strings"

	"github.com/ehrchain/ehrd/common/flogging"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var logger = flogging.MustGetLogger("viperutil")

// EnvPrefix prefixes every environment override, e.g. EHRD_PEER_PORT.
const EnvPrefix = "EHRD"

// ConfigPaths returns the paths from environment and
// defaults which are CWD and /etc/ehrd.
func ConfigPaths() []string {
	var paths []string
	if p := os.Getenv(EnvPrefix + "_CFG_PATH"); p != "" {
		paths = append(paths, p)
	}
	return append(paths, ".", "/etc/ehrd")
}

// InitViper points v at configName in the config paths and enables
// environment overrides.
func InitViper(v *viper.Viper, configName string) {
	for _, p := range ConfigPaths() {
		v.AddConfigPath(p)
	}
	v.SetConfigName(configName)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

// customDecodeHook parses strings of the format "[thing1, thing2, thing3]"
// into string slices. Note that whitespace around slice elements is removed.
func customDecodeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}

	raw := data.(string)
	l := len(raw)
	if l > 1 && raw[0] == '[' && raw[l-1] == ']' {
		slice := strings.Split(raw[1:l-1], ",")
		for i, v := range slice {
			slice[i] = strings.TrimSpace(v)
		}
		return slice, nil
	}

	return data, nil
}

// settings rebuilds the nested key tree from every key viper knows about so
// that environment overrides of keys missing from the file are honored.
func settings(v *viper.Viper) map[string]interface{} {
	result := map[string]interface{}{}
	for _, key := range v.AllKeys() {
		path := strings.Split(key, ".")
		node := result
		for _, part := range path[:len(path)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[part] = child
			}
			node = child
		}
		node[path[len(path)-1]] = v.Get(key)
	}
	return result
}

// EnhancedExactUnmarshal is intended to unmarshal a config file into a structure
// producing error when extraneous variables are introduced and supporting
// the time.Duration type
func EnhancedExactUnmarshal(v *viper.Viper, output interface{}) error {
	oType := reflect.TypeOf(output)
	if oType == nil || oType.Kind() != reflect.Ptr || oType.Elem().Kind() != reflect.Struct {
		return errors.Errorf("supplied output argument must be a pointer to a struct")
	}

	leafKeys := settings(v)
	logger.Debugf("%+v", leafKeys)

	config := &mapstructure.DecoderConfig{
		ErrorUnused:      true,
		Metadata:         nil,
		Result:           output,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			customDecodeHook,
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(config)
	if err != nil {
		return err
	}
	return decoder.Decode(leafKeys)
}
