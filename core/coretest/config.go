// Copyright (c) 2017 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

// package coretest provides assertions for core interface implementations.
package coretest

import (
	"github.com/onsi/gomega"

	"github.com/yandex/funnel/core/config"
	"github.com/yandex/funnel/lib/ginkgoutil"
)

// Decode decodes YAML data to result. Should be called from ginkgo specs.
func Decode(data string, result interface{}) {
	conf := ginkgoutil.ParseYAML(data)
	err := config.Decode(conf, result)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
}

func DecodeAndValidate(data string, result interface{}) {
	Decode(data, result)
	err := config.Validate(result)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
}
