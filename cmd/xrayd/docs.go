package main

// General API documentation for swaggo. Run `swag init` to generate docs.
//
// @title           xrayd API
// @version         1.0
// @description     HTTP API for chest radiograph classification with CAM saliency heatmaps.
//
// @contact.name   xrayd maintainers
// @contact.url    https://github.com/your-org/xrayd
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
