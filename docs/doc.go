// Package docs provides generated OpenAPI documentation.
//
// clincite API
//
//	@title			clincite API
//	@version		1.0
//	@description	Clinical document analysis API: upload documents, poll analysis progress, and fetch cited results.
//	@termsOfService	http://swagger.io/terms/
//
//	@contact.name	API Support
//	@contact.url	https://github.com/clincite/clincite
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8420
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/clincite/serve.go -o ./swagger --parseDependency --parseInternal
