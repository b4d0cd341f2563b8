package main

import (
	"github.com/shouni/go-manga-lens/cmd"
)

// main はアプリケーションの唯一のエントリポイントです。
// コマンドライン引数の解析と実行は cmd パッケージに委ねます。
func main() {
	cmd.Execute()
}
