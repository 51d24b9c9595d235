package recipe

import "github.com/zclconf/go-cty/cty"

// file is the top level of a recipe file.
type file struct {
	Projects []*hclProject `hcl:"project,block"`
}

type hclProject struct {
	Name     string   `hcl:"name,label"`
	Type     string   `hcl:"type"`
	Version  string   `hcl:"version,optional"`
	Depends  []string `hcl:"depends,optional"`
	Patches  []string `hcl:"patches,optional"`
	ToolDirs []string `hcl:"tool_dirs,optional"`

	Archive    *hclArchive    `hcl:"archive,block"`
	Repository *hclRepository `hcl:"repository,block"`

	Options []*hclOption `hcl:"option,block"`
	When    []*hclWhen   `hcl:"when,block"`

	Meson   *hclParams  `hcl:"meson,block"`
	CMake   *hclParams  `hcl:"cmake,block"`
	Make    *hclMake    `hcl:"make,block"`
	MSBuild *hclMSBuild `hcl:"msbuild,block"`
	Custom  *hclCustom  `hcl:"custom,block"`
}

type hclArchive struct {
	URL      string `hcl:"url"`
	Hash     string `hcl:"hash"`
	Root     string `hcl:"root,optional"`
	Filename string `hcl:"filename,optional"`
}

type hclRepository struct {
	URL        string `hcl:"url"`
	Ref        string `hcl:"ref"`
	Submodules bool   `hcl:"submodules,optional"`
}

type hclOption struct {
	Name        string    `hcl:"name,label"`
	Default     cty.Value `hcl:"default,optional"`
	Description string    `hcl:"description,optional"`
}

// hclWhen adds to a project while an option is set. Bool options match
// when true, other options when equal to Equals.
type hclWhen struct {
	Option  string   `hcl:"option,label"`
	Equals  string   `hcl:"equals,optional"`
	Depends []string `hcl:"depends,optional"`
	Patches []string `hcl:"patches,optional"`
	Params  []string `hcl:"params,optional"`
}

type hclParams struct {
	Params []string `hcl:"params,optional"`
}

type hclMake struct {
	Configure     bool     `hcl:"configure,optional"`
	ConfigureArgs []string `hcl:"configure_args,optional"`
	MakeArgs      []string `hcl:"make_args,optional"`
	InstallArgs   []string `hcl:"install_args,optional"`
	SkipBuild     bool     `hcl:"skip_build,optional"`
	Native        bool     `hcl:"native,optional"`
}

type hclMSBuild struct {
	Solution   string            `hcl:"solution"`
	Platform   string            `hcl:"platform,optional"`
	Properties map[string]string `hcl:"properties,optional"`
	Outputs    []*hclOutput      `hcl:"output,block"`
}

type hclOutput struct {
	Dest  string   `hcl:"dest,label"`
	Files []string `hcl:"files"`
}

// hclCustom holds command lists per step. Steps left empty keep the
// behavior of the build system block, if any.
type hclCustom struct {
	Posix       bool         `hcl:"posix,optional"`
	Dir         string       `hcl:"dir,optional"`
	Path        []string     `hcl:"path,optional"`
	Require     []string     `hcl:"require,optional"`
	Configure   [][]string   `hcl:"configure,optional"`
	Build       [][]string   `hcl:"build,optional"`
	Install     [][]string   `hcl:"install,optional"`
	PostInstall [][]string   `hcl:"post_install,optional"`
	Files       []*hclOutput `hcl:"install_files,block"`
	Moves       []*hclMove   `hcl:"move,block"`
}

type hclMove struct {
	From  string   `hcl:"from"`
	To    string   `hcl:"to"`
	Files []string `hcl:"files"`
}
