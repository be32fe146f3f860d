// Copyright (c) 2016 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package config

import (
	"encoding"
	"errors"
	"fmt"
	"net"
	"net/url"
	"reflect"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/c2h5oh/datasize"
	"github.com/facebookgo/stack"
	"github.com/facebookgo/stackerr"
)

// TypeKey is key of component name in typed config sections.
// For example: `framer: {type: length-prefix, prefix-size: 2}`.
const TypeKey = "type"

// Debug enables DebugHook output.
var Debug = false

var InvalidURLError = errors.New("string is not valid URL")

var (
	urlPtrType = reflect.TypeOf(&url.URL{})
	urlType    = reflect.TypeOf(url.URL{})
)

// StringToURLHook converts string to url.URL or *url.URL
func StringToURLHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	if t != urlPtrType && t != urlType {
		return data, nil
	}
	str := data.(string)

	if !govalidator.IsURL(str) { // checks more than url.Parse
		return nil, stackerr.Wrap(InvalidURLError)
	}
	urlPtr, err := url.Parse(str)
	if err != nil {
		return nil, stackerr.Wrap(err)
	}

	if t == urlType {
		return *urlPtr, nil
	}
	return urlPtr, nil
}

var InvalidIPError = errors.New("string is not valid IP")

// StringToIPHook converts string to net.IP
func StringToIPHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	if t != reflect.TypeOf(net.IP{}) {
		return data, nil
	}
	str := data.(string)
	ip := net.ParseIP(str)
	if ip == nil {
		return nil, stackerr.Wrap(InvalidIPError)
	}
	return ip, nil
}

// StringToDataSizeHook converts string to datasize.ByteSize
func StringToDataSizeHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	if t != reflect.TypeOf(datasize.B) {
		return data, nil
	}
	var size datasize.ByteSize
	err := size.UnmarshalText([]byte(data.(string)))
	return size, err
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// TextUnmarshallerHook decodes string to types implementing encoding.TextUnmarshaler.
// For example zapcore.Level.
func TextUnmarshallerHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String {
		return data, nil
	}
	text := []byte(data.(string))
	switch {
	case t.Kind() == reflect.Ptr && t.Implements(textUnmarshalerType):
		val := reflect.New(t.Elem())
		err := val.Interface().(encoding.TextUnmarshaler).UnmarshalText(text)
		return val.Interface(), stackerr.Wrap(err)
	case reflect.PtrTo(t).Implements(textUnmarshalerType):
		val := reflect.New(t)
		err := val.Interface().(encoding.TextUnmarshaler).UnmarshalText(text)
		return val.Elem().Interface(), stackerr.Wrap(err)
	}
	return data, nil
}

// DebugHook used to debug config decode.
func DebugHook(f reflect.Type, t reflect.Type, data interface{}) (p interface{}, err error) {
	p, err = data, nil
	if !Debug {
		return
	}
	callers := stack.Callers(2)
	var decodeCallers int
	for _, caller := range callers {
		if caller.Name == "(*Decoder).decode" {
			decodeCallers++
		}
	}

	offset := strings.Repeat("    ", decodeCallers)
	fmt.Printf("%s %s from %s %v\n", offset, t, f, data)
	return
}

// ParseTyped splits typed config section into component name from TypeKey, and
// rest of config, that should be decoded into component config.
// Data is not modified.
func ParseTyped(data interface{}) (name string, conf map[string]interface{}, err error) {
	confData, err := toStringKeyMap(data)
	if err != nil {
		return
	}
	conf = make(map[string]interface{}, len(confData))
	var names []string
	for key, val := range confData {
		if TypeKey != strings.ToLower(key) {
			conf[key] = val
			continue
		}
		strVal, ok := val.(string)
		if !ok {
			err = stackerr.Newf("%s has non-string value %v", TypeKey, val)
			return
		}
		names = append(names, strVal)
	}
	if len(names) == 0 {
		err = stackerr.Newf("%s expected", TypeKey)
		return
	}
	if len(names) > 1 {
		err = stackerr.Newf("too many %s keys", TypeKey)
		return
	}
	name = names[0]
	return
}

func toStringKeyMap(data interface{}) (out map[string]interface{}, err error) {
	out, ok := data.(map[string]interface{})
	if ok {
		return
	}
	untypedKeyData, ok := data.(map[interface{}]interface{})
	if !ok {
		err = stackerr.Newf("unexpected config type %T: should be map[string or interface{}]interface{}", data)
		return
	}
	out = make(map[string]interface{}, len(untypedKeyData))
	for key, val := range untypedKeyData {
		strKey, ok := key.(string)
		if !ok {
			err = stackerr.Newf("unexpected config key type %T", key)
			return
		}
		out[strKey] = val
	}
	return
}
