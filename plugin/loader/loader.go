// Package loader registers the uris loaders: module, file and xml.
package loader

import "github.com/chengcxy/docshift/plugin"

func init() {
	plugin.RegisterLoader(plugin.LoaderModule, NewModuleLoader)
	plugin.RegisterLoader(plugin.LoaderFile, NewFileLoader)
	plugin.RegisterLoader(plugin.LoaderXML, NewXMLLoader)
}
