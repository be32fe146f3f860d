// Copyright (c) 2016 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package config

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

const TagName = "config"

// Decode decodes conf to result. Doesn't zero fields, so result can be prefilled with defaults.
func Decode(conf interface{}, result interface{}) error {
	decoder, err := mapstructure.NewDecoder(newDecoderConfig(result))
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(decoder.Decode(conf))
}

func DecodeAndValidate(conf interface{}, result interface{}) error {
	err := Decode(conf, result)
	if err != nil {
		return err
	}
	return Validate(result)
}

// DecodeTyped parses config with type key, and decodes rest of it into config of that type.
// newConf returns pointer to config prefilled with defaults, or nil if type is unknown.
// Returned conf is the pointer returned by newConf.
func DecodeTyped(data interface{}, newConf func(typ string) interface{}) (typ string, conf interface{}, err error) {
	typ, rest, err := ParseTyped(data)
	if err != nil {
		return "", nil, err
	}
	conf = newConf(typ)
	if conf == nil {
		return typ, nil, errors.Errorf("unknown %s %q", TypeKey, typ)
	}
	err = DecodeAndValidate(rest, conf)
	if err != nil {
		return typ, nil, errors.WithMessage(err, typ+" config")
	}
	return typ, conf, nil
}

// Map maps with overwrite fields from src to dst.
// if src filed have `map:""` tag, tag value will
// be used as dst field destination.
// src field destinations should be subset of dst fields.
// dst should be struct pointer. src should be struct or struct pointer.
// Example: jsoniter.Config has a lot of options, but only few of them are
// useful to configure. Subset struct is decoded from config, and mapped on jsoniter.Config.
func Map(dst, src interface{}) {
	dstConf := &mapstructure.DecoderConfig{
		ErrorUnused: true,
		ZeroFields:  true,
		Result:      dst,
	}
	d, err := mapstructure.NewDecoder(dstConf)
	if err != nil {
		panic(err)
	}

	tmp := make(map[string]interface{})
	srcConf := &mapstructure.DecoderConfig{
		ErrorUnused: true,
		ZeroFields:  true,
		Result:      &tmp,
		TagName:     "map",
	}
	s, err := mapstructure.NewDecoder(srcConf)
	if err != nil {
		panic(err)
	}

	err = s.Decode(src)
	if err != nil {
		panic(err)
	}

	err = d.Decode(tmp)
	if err != nil {
		panic(err)
	}
}

func newDecoderConfig(result interface{}) *mapstructure.DecoderConfig {
	return &mapstructure.DecoderConfig{
		DecodeHook:       compiledHook,
		ErrorUnused:      true,
		ZeroFields:       false,
		WeaklyTypedInput: false,
		TagName:          TagName,
		Result:           result,
	}
}

var compiledHook = mapstructure.ComposeDecodeHookFunc(
	DebugHook,
	mapstructure.StringToTimeDurationHookFunc(),
	StringToURLHook,
	StringToIPHook,
	StringToDataSizeHook,
	TextUnmarshallerHook,
)
